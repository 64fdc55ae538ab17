package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Breaker wraps an Announcer with circuit breaker protection. While a chat
// platform is down, announcements fail fast instead of stalling restarts.
type Breaker struct {
	inner   Announcer
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps inner. Zero config values fall back to defaults.
func NewBreaker(inner Announcer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "announce:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// SendAnnouncement implements domain.Announcer.
func (b *Breaker) SendAnnouncement(ctx context.Context, text string) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.SendAnnouncement(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewSubSystemError("announce", "Breaker.SendAnnouncement", domain.ErrDisabled,
			fmt.Sprintf("%s circuit open: %v", b.inner.Name(), err))
	}
	return err
}

// State returns the breaker state for status pages.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
