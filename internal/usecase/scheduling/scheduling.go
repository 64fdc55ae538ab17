package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fxpanel/internal/domain"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionAuditRetention ScheduledAction = "audit_retention"
	ActionStatusLog      ScheduledAction = "status_log"
)

// taskTimeout bounds a single run of any task.
const taskTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *", daily "HH:MM" OR duration "30m"
	Action   ScheduledAction
	OneShot  bool
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron           *cron.Cron
	actions        map[ScheduledAction]func(ctx context.Context) error
	dynamicEntries map[string]cron.EntryID // id → entryID for runtime-added tasks
	logger         *slog.Logger
	mu             sync.Mutex
	started        bool
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewScheduler creates a scheduler using the local time zone, which is the
// zone restart times are written in.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:           cron.New(cron.WithLocation(time.Local)),
		actions:        make(map[ScheduledAction]func(ctx context.Context) error),
		dynamicEntries: make(map[string]cron.EntryID),
		logger:         logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression, a
// daily HH:MM time or a duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return domain.NewSubSystemError("scheduling", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("unknown action %q for task %q", task.Action, task.Name))
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return domain.NewSubSystemError("scheduling", "Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("invalid schedule %q for task %q: %v", task.Schedule, task.Name, err))
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, s.job("task", task.Name, fn, func() {
		if task.OneShot {
			s.cron.Remove(entryID)
		}
	}))

	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// job wraps fn with the scheduler context, a timeout and result logging.
// done runs after every execution.
func (s *Scheduler) job(kind, name string, fn func(ctx context.Context) error, done func()) cron.Job {
	logger := s.logger
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			logger.Debug("scheduler stopped, skipping "+kind, "name", name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled "+kind+" failed", "name", name, "error", err, "duration", time.Since(start))
		} else {
			logger.Debug("scheduled "+kind+" completed", "name", name, "duration", time.Since(start))
		}
		done()
	})
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Jobs take s.mu to read the context, so wait outside the lock.
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// AddDynamicTask adds a runtime task identified by id.
func (s *Scheduler) AddDynamicTask(id string, schedule cron.Schedule, fn func(ctx context.Context) error, oneShot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dynamicEntries[id]; exists {
		return domain.NewSubSystemError("scheduling", "Scheduler.AddDynamicTask", domain.ErrDuplicate, id)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, s.job("dynamic task", id, fn, func() {
		if oneShot {
			s.cron.Remove(entryID)
			s.mu.Lock()
			delete(s.dynamicEntries, id)
			s.mu.Unlock()
		}
	}))

	s.dynamicEntries[id] = entryID
	s.logger.Debug("dynamic task added", "id", id)
	return nil
}

// RemoveDynamicTask removes a runtime task by id.
func (s *Scheduler) RemoveDynamicTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.dynamicEntries[id]
	if !ok {
		return domain.NewSubSystemError("scheduling", "Scheduler.RemoveDynamicTask", domain.ErrNotFound, id)
	}
	s.cron.Remove(entryID)
	delete(s.dynamicEntries, id)
	s.logger.Debug("dynamic task removed", "id", id)
	return nil
}

// DynamicTaskIDs returns the ids of all runtime tasks, sorted.
func (s *Scheduler) DynamicTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.dynamicEntries))
	for id := range s.dynamicEntries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetNextRun returns the next scheduled run time for a dynamic task, or nil if
// not found or the scheduler is not running.
func (s *Scheduler) GetNextRun(id string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.dynamicEntries[id]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// parseSchedule tries a daily HH:MM time, then a cron expression, then
// time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if spec, err := DailyAt(schedule); err == nil {
		schedule = spec
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid time, cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for external callers.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// DailyAt converts an "HH:MM" time into a daily cron expression.
func DailyAt(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// NewConstantDelay returns a cron.Schedule that fires at a fixed interval.
func NewConstantDelay(d time.Duration) cron.Schedule {
	return &constantDelay{delay: d}
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
