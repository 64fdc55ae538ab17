package fxrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder keeps a cross-collaborator timeline of side effects.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// fakeClock completes sleeps immediately, advancing its time, and holds
// AfterFunc callbacks until fire is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	rec    *recorder
	sleeps []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func newFakeClock(rec *recorder) *fakeClock {
	return &fakeClock{now: testEpoch, rec: rec}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.rec != nil {
		c.rec.add("sleep:" + d.String())
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fire runs every pending timer scheduled with delay d and returns how many ran.
func (c *fakeClock) fire(d time.Duration) int {
	c.mu.Lock()
	pending := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range pending {
		t.mu.Lock()
		run := t.d == d && !t.stopped && !t.fired
		t.fired = t.fired || run
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

func (c *fakeClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeProcess answers stdin lines synchronously on its stdout writer.
type fakeProcess struct {
	pid     int
	rec     *recorder
	stdout  io.Writer
	respond func(line string) string
	failIn  bool

	once sync.Once
	done chan struct{}
	code int
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Stdin() io.Writer { return stdinFunc(p.writeLine) }

func (p *fakeProcess) writeLine(b []byte) (int, error) {
	if p.failIn {
		return 0, errors.New("broken pipe")
	}
	line := strings.TrimSuffix(string(b), "\n")
	p.rec.add("stdin:" + line)
	if p.respond != nil {
		if out := p.respond(line); out != "" {
			_, _ = io.WriteString(p.stdout, out)
		}
	}
	return len(b), nil
}

func (p *fakeProcess) Terminate() error {
	p.rec.add("terminate")
	p.exit(-1)
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		close(p.done)
	})
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

type stdinFunc func([]byte) (int, error)

func (f stdinFunc) Write(b []byte) (int, error) { return f(b) }

// fakeStarter hands out fakeProcesses with increasing PIDs.
type fakeStarter struct {
	mu      sync.Mutex
	rec     *recorder
	nextPID int
	respond func(line string) string
	err     error
	zeroPID bool
	specs   []LaunchSpec
	procs   []*fakeProcess
}

func (s *fakeStarter) Start(_ context.Context, spec LaunchSpec, stdout, _ io.Writer) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.rec.add("start")
	s.specs = append(s.specs, spec)
	s.nextPID++
	pid := 1000 + s.nextPID
	if s.zeroPID {
		pid = 0
	}
	p := &fakeProcess{pid: pid, rec: s.rec, stdout: stdout, respond: s.respond, done: make(chan struct{})}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeStarter) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeStarter) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type fakeAnnouncer struct{ rec *recorder }

func (a fakeAnnouncer) SendAnnouncement(_ context.Context, text string) error {
	a.rec.add("announce:" + text)
	return nil
}

// keyTranslator echoes the key so tests can assert which message was used.
type keyTranslator struct{}

func (keyTranslator) T(key string, _ map[string]string) string { return key }

type fakeHitches struct {
	mu      sync.Mutex
	cleared int
}

func (h *fakeHitches) ClearHitches() {
	h.mu.Lock()
	h.cleared++
	h.mu.Unlock()
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []domain.CommandAuditEntry
}

func (a *fakeAuditor) RecordCommand(_ context.Context, e domain.CommandAuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

type fakePriority struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePriority) Apply(_ context.Context, pid int, label string) {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf("%s@%d", label, pid))
	p.mu.Unlock()
}

type harness struct {
	runner   *Runner
	rec      *recorder
	clock    *fakeClock
	starter  *fakeStarter
	hitches  *fakeHitches
	auditor  *fakeAuditor
	priority *fakePriority
	dir      string
}

// newHarness builds a Runner over fakes with a valid server data folder.
func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "server-data")
	require.NoError(t, os.MkdirAll(dataPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataPath, "server.cfg"),
		[]byte("endpoint_add_tcp \"0.0.0.0:30120\"\nendpoint_add_udp \"0.0.0.0:30120\"\n"), 0o644))

	h := &harness{
		rec:      &recorder{},
		hitches:  &fakeHitches{},
		auditor:  &fakeAuditor{},
		priority: &fakePriority{},
		dir:      dir,
	}
	h.clock = newFakeClock(h.rec)
	h.starter = &fakeStarter{rec: h.rec}

	opts := Options{
		Config: config.FXRunnerConfig{
			InstallPath:    filepath.Join(dir, "alpine", "opt", "cfx-server"),
			ServerDataPath: dataPath,
			CfgPath:        "server.cfg",
			Onesync:        config.OnesyncOn,
			AutostartDelay: 2 * time.Second,
			RestartDelay:   1250 * time.Millisecond,
			SetPriority:    "high",
			LogPath:        filepath.Join(dir, "logs", "fxserver.log"),
			ConsoleLines:   10,
			CaptureWindow:  1500 * time.Millisecond,
			APIPort:        40120,
			APIToken:       "secret",
		},
		Global:     config.GlobalConfig{ServerName: "test"},
		Platform:   Linux,
		Version:    "1.0.0",
		Starter:    h.starter,
		Clock:      h.clock,
		Priority:   h.priority,
		Announcer:  fakeAnnouncer{rec: h.rec},
		Translator: keyTranslator{},
		Auditor:    h.auditor,
		Hitches:    h.hitches,
		Logger:     discardLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.runner = New(opts)
	t.Cleanup(h.runner.Close)
	return h
}

// stubExit replaces osExit for the duration of the test and returns the
// recorded exit codes.
func stubExit(t *testing.T) *[]int {
	t.Helper()
	var codes []int
	prev := osExit
	osExit = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() { osExit = prev })
	return &codes
}
