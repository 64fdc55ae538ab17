// Package restarter restarts the server at fixed daily times and warns the
// players in chat beforehand.
package restarter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/usecase/fxrunner"
	"fxpanel/internal/usecase/scheduling"
)

// broadcastAuthor is the author shown in chat for restart warnings.
const broadcastAuthor = "fxpanel"

// Target is the supervisor the restarter drives.
type Target interface {
	Restart(ctx context.Context, reason string) error
	SendCommand(ctx context.Context, text string) bool
	State() domain.ServerState
}

// TaskScheduler runs the restart and warning jobs.
type TaskScheduler interface {
	AddDynamicTask(id string, schedule cron.Schedule, fn func(ctx context.Context) error, oneShot bool) error
	RemoveDynamicTask(id string) error
	GetNextRun(id string) *time.Time
}

// Restarter owns the dynamic scheduler tasks derived from the monitor config.
type Restarter struct {
	target     Target
	scheduler  TaskScheduler
	translator domain.Translator
	announcer  domain.Announcer
	bus        domain.EventBus
	logger     *slog.Logger

	mu    sync.Mutex
	tasks []plannedTask
}

// New creates a Restarter. Call Apply to install a schedule.
func New(target Target, scheduler TaskScheduler, translator domain.Translator, announcer domain.Announcer, bus domain.EventBus, logger *slog.Logger) *Restarter {
	return &Restarter{
		target:     target,
		scheduler:  scheduler,
		translator: translator,
		announcer:  announcer,
		bus:        bus,
		logger:     logger,
	}
}

// plannedTask is one cron entry: a restart (Minutes == 0) or a warning
// Minutes before the restart At.
type plannedTask struct {
	ID      string
	Spec    string
	At      string
	Minutes int
}

// plan expands restart times and warning offsets into daily cron entries.
// Duplicate times and warnings are collapsed; warnings of a day or more are dropped.
func plan(times []string, warnings []int) ([]plannedTask, error) {
	var tasks []plannedTask
	seen := make(map[string]bool)
	for _, at := range times {
		t, err := time.Parse("15:04", at)
		if err != nil {
			return nil, domain.NewSubSystemError("scheduling", "restarter.plan", domain.ErrInvalidInput,
				fmt.Sprintf("restart time %q must be HH:MM", at))
		}
		at = t.Format("15:04")
		id := "restart@" + at
		if seen[id] {
			continue
		}
		seen[id] = true
		tasks = append(tasks, plannedTask{ID: id, Spec: cronSpec(t), At: at})

		for _, m := range warnings {
			if m <= 0 || m >= 24*60 {
				continue
			}
			wid := id + "-" + strconv.Itoa(m) + "m"
			if seen[wid] {
				continue
			}
			seen[wid] = true
			tasks = append(tasks, plannedTask{
				ID:      wid,
				Spec:    cronSpec(t.Add(-time.Duration(m) * time.Minute)),
				At:      at,
				Minutes: m,
			})
		}
	}
	return tasks, nil
}

// cronSpec returns the daily cron expression for the clock time of t,
// wrapping around midnight.
func cronSpec(t time.Time) string {
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
}

// Apply replaces the installed schedule with cfg. An invalid config leaves
// the current schedule in place.
func (r *Restarter) Apply(cfg config.MonitorConfig) error {
	tasks, err := plan(cfg.RestarterSchedule, cfg.ScheduleWarnings)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tasks {
		if err := r.scheduler.RemoveDynamicTask(t.ID); err != nil {
			r.logger.Debug("restart task already gone", "id", t.ID, "error", err)
		}
	}
	r.tasks = nil

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, t := range tasks {
		sched, err := parser.Parse(t.Spec)
		if err != nil {
			return fmt.Errorf("restarter: %s: %w", t.ID, err)
		}
		fn := r.restartJob(t)
		if t.Minutes > 0 {
			fn = r.warningJob(t)
		}
		if err := r.scheduler.AddDynamicTask(t.ID, sched, fn, false); err != nil {
			return fmt.Errorf("restarter: %w", err)
		}
		r.tasks = append(r.tasks, t)
	}

	if len(cfg.RestarterSchedule) > 0 {
		r.logger.Info("scheduled restarts installed", "times", cfg.RestarterSchedule, "warnings", cfg.ScheduleWarnings)
	}
	return nil
}

// NextRestart returns the earliest upcoming scheduled restart.
func (r *Restarter) NextRestart() (time.Time, bool) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Minutes == 0 {
			ids = append(ids, t.ID)
		}
	}
	r.mu.Unlock()

	var next []time.Time
	for _, id := range ids {
		if t := r.scheduler.GetNextRun(id); t != nil {
			next = append(next, *t)
		}
	}
	if len(next) == 0 {
		return time.Time{}, false
	}
	return slices.MinFunc(next, func(a, b time.Time) int { return a.Compare(b) }), true
}

type schedulePayload struct {
	At      string `json:"at"`
	Minutes int    `json:"minutes,omitempty"`
}

func (r *Restarter) warningJob(t plannedTask) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if r.target.State() != domain.ServerStateRunning {
			return nil
		}
		ctx = domain.WithAuditActor(ctx, domain.AuditSourceScheduler, "restarter")
		vars := map[string]string{"smart_count": strconv.Itoa(t.Minutes), "time": t.At}

		msg := r.translator.T("restarter.schedule_warn", vars)
		if !r.target.SendCommand(ctx, fxrunner.FormatCommand("txaBroadcast", broadcastAuthor, msg)) {
			return domain.NewDomainError("restarter.warn", domain.ErrCommandFailed, "txaBroadcast")
		}
		if r.announcer != nil {
			if err := r.announcer.SendAnnouncement(ctx, r.translator.T("restarter.schedule_warn_discord", vars)); err != nil {
				r.logger.Warn("restart warning announcement failed", "error", err)
			}
		}
		r.emit(ctx, domain.EventScheduleWarning, schedulePayload{At: t.At, Minutes: t.Minutes})
		return nil
	}
}

func (r *Restarter) restartJob(t plannedTask) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if r.target.State() != domain.ServerStateRunning {
			r.logger.Info("skipping scheduled restart, server is not running", "at", t.At)
			return nil
		}
		ctx = domain.WithAuditActor(ctx, domain.AuditSourceScheduler, "restarter")
		r.emit(ctx, domain.EventScheduleFired, schedulePayload{At: t.At})
		reason := r.translator.T("restarter.schedule_reason", map[string]string{"time": t.At})
		r.logger.Info("scheduled restart", "at", t.At)
		return r.target.Restart(ctx, reason)
	}
}

func (r *Restarter) emit(ctx context.Context, typ domain.EventType, payload schedulePayload) {
	if r.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	r.bus.Publish(ctx, domain.Event{Type: typ, Timestamp: time.Now(), Payload: data})
}

var _ TaskScheduler = (*scheduling.Scheduler)(nil)
