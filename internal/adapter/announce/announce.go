// Package announce delivers operator announcements (server starting,
// stopping, scheduled restarts) to chat platforms.
package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
)

// Announcer is a named announcement target.
type Announcer interface {
	domain.Announcer
	Name() string
}

// Multi sends every announcement to all targets in order. A Multi with no
// targets is a no-op.
type Multi struct {
	targets []Announcer
	timeout time.Duration
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewMulti creates a fan-out announcer. timeout bounds each target's delivery.
func NewMulti(targets []Announcer, timeout time.Duration, bus domain.EventBus, logger *slog.Logger) *Multi {
	return &Multi{targets: targets, timeout: timeout, bus: bus, logger: logger}
}

// FromConfig builds the announcers enabled in cfg, each behind a circuit
// breaker when configured.
func FromConfig(cfg *config.Config, bus domain.EventBus, logger *slog.Logger) (*Multi, error) {
	var targets []Announcer
	if cfg.Discord.Enabled {
		d, err := NewDiscord(cfg.Discord.Token, cfg.Discord.AnnounceChannel, logger)
		if err != nil {
			return nil, fmt.Errorf("discord announcer: %w", err)
		}
		targets = append(targets, d)
	}
	if cfg.Slack.Enabled {
		targets = append(targets, NewSlack(cfg.Slack.BotToken, cfg.Slack.AnnounceChannel, logger))
	}
	if cb := cfg.Announce.CircuitBreaker; cb.Enabled {
		for i, t := range targets {
			targets[i] = NewBreaker(t, cb, logger)
		}
	}
	return NewMulti(targets, cfg.Announce.Timeout, bus, logger), nil
}

// Names lists the configured targets.
func (m *Multi) Names() []string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.Name()
	}
	return names
}

type announcePayload struct {
	Target string `json:"target"`
	Error  string `json:"error,omitempty"`
}

// SendAnnouncement implements domain.Announcer. It returns an error wrapping
// domain.ErrAnnounceFailed when any target failed.
func (m *Multi) SendAnnouncement(ctx context.Context, text string) error {
	var errs []error
	for _, t := range m.targets {
		err := m.send(ctx, t, text)
		payload := announcePayload{Target: t.Name()}
		if err != nil {
			m.logger.Warn("announcement failed", "target", t.Name(), "error", err)
			payload.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			m.emit(ctx, domain.EventAnnouncementFailed, payload)
			continue
		}
		m.logger.Debug("announcement sent", "target", t.Name())
		m.emit(ctx, domain.EventAnnouncementSent, payload)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrAnnounceFailed, errors.Join(errs...))
	}
	return nil
}

func (m *Multi) send(ctx context.Context, t Announcer, text string) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return t.SendAnnouncement(ctx, text)
}

func (m *Multi) emit(ctx context.Context, t domain.EventType, payload announcePayload) {
	if m.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.bus.Publish(ctx, domain.Event{Type: t, Timestamp: time.Now(), Payload: data})
}

var _ domain.Announcer = (*Multi)(nil)
