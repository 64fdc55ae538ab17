package fxrunner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fxpanel/internal/domain"
	"fxpanel/internal/usecase/eventbus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSpawnTwiceKeepsOneProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.runner.Spawn(ctx, false))
	err := h.runner.Spawn(ctx, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
	assert.Equal(t, domain.CodeAlreadyRunning, domain.ErrorCodeOf(err))
	assert.Equal(t, 1, h.starter.started())
	assert.Equal(t, domain.ServerStateRunning, h.runner.State())
}

func TestSpawnSetsRuntimeState(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner.Spawn(context.Background(), true))

	assert.Equal(t, 1001, h.runner.PID())
	assert.Equal(t, 30120, h.runner.Port())
	assert.Equal(t, 1, h.hitches.cleared)
	assert.Contains(t, h.rec.list(), "announce:server_actions.spawning_discord")

	spec := h.runner.LaunchSpec()
	assert.Equal(t, h.starter.specs[0], spec)
	assert.Contains(t, spec.Args, "+exec")

	recent := h.runner.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, domain.ConsoleHeader, recent[0].Kind)

	st := h.runner.Status()
	assert.Equal(t, domain.ServerStateRunning, st.State)
	assert.Equal(t, 1001, st.PID)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, testEpoch, *st.StartedAt)
}

func TestSpawnMissingConfig(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.CfgPath = "" })

	err := h.runner.Spawn(context.Background(), false)

	assert.ErrorIs(t, err, domain.ErrMissingConfig)
	assert.Equal(t, 0, h.starter.started())
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
}

func TestSpawnPortFallback(t *testing.T) {
	t.Run("forced port", func(t *testing.T) {
		h := newHarness(t, func(o *Options) {
			o.Config.CfgPath = "missing.cfg"
			o.Global.ForceFXServerPort = 30125
		})
		require.NoError(t, h.runner.Spawn(context.Background(), false))
		assert.Equal(t, 30125, h.runner.Port())
	})
	t.Run("unknown port", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.Config.CfgPath = "missing.cfg" })
		require.NoError(t, h.runner.Spawn(context.Background(), false))
		assert.Equal(t, 0, h.runner.Port())
		assert.Equal(t, domain.ServerStateRunning, h.runner.State())
	})
}

func TestSpawnStartFailureIsFatal(t *testing.T) {
	codes := stubExit(t)
	h := newHarness(t)
	h.starter.err = errors.New("exec format error")

	err := h.runner.Spawn(context.Background(), false)

	require.Error(t, err)
	assert.Equal(t, []int{1}, *codes)
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
}

func TestSpawnWithoutPIDIsFatal(t *testing.T) {
	codes := stubExit(t)
	h := newHarness(t)
	h.starter.zeroPID = true

	require.Error(t, h.runner.Spawn(context.Background(), false))
	assert.Equal(t, []int{1}, *codes)
}

func TestKillWithReasonOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	h.rec.reset()

	ok := h.runner.Kill(ctx, "maintenance")

	assert.True(t, ok)
	assert.Equal(t, []string{
		"announce:server_actions.stopping_discord",
		`stdin:txaKickAll "server_actions.stopping"`,
		"sleep:500ms",
		"terminate",
	}, h.rec.list())
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
	assert.Equal(t, 0, h.runner.PID())
	assert.Equal(t, 0, h.runner.Port())
}

func TestKillWithoutReasonSkipsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	h.rec.reset()

	assert.True(t, h.runner.Kill(ctx, ""))
	assert.Equal(t, []string{"terminate"}, h.rec.list())
}

func TestKillWhenStopped(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.runner.Kill(context.Background(), "nothing to do"))
	assert.Empty(t, h.rec.list())
}

func TestRestartFromStoppedSpawns(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner.Restart(context.Background(), ""))

	assert.Equal(t, 1, h.starter.started())
	assert.Equal(t, domain.ServerStateRunning, h.runner.State())
	assert.Equal(t, []time.Duration{1250 * time.Millisecond}, h.clock.slept())
}

func TestRestartRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	h.rec.reset()

	require.NoError(t, h.runner.Restart(ctx, "update"))

	assert.Equal(t, []string{
		"announce:server_actions.restarting_discord",
		`stdin:txaKickAll "server_actions.restarting"`,
		"sleep:500ms",
		"terminate",
		"sleep:1.25s",
		"start",
	}, h.rec.list())
	assert.Equal(t, 2, h.starter.started())
	assert.Equal(t, 1002, h.runner.PID())
}

func TestRestartIgnoresCancelledContext(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Spawn(context.Background(), false))
	h.rec.reset()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.runner.Restart(ctx, "update"))

	assert.Equal(t, []string{
		"announce:server_actions.restarting_discord",
		`stdin:txaKickAll "server_actions.restarting"`,
		"sleep:500ms",
		"terminate",
		"sleep:1.25s",
		"start",
	}, h.rec.list())
	assert.Equal(t, domain.ServerStateRunning, h.runner.State())
	assert.Equal(t, 1002, h.runner.PID())
}

func TestKillDelayIgnoresCancelledContext(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Spawn(context.Background(), false))
	h.rec.reset()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, h.runner.Kill(ctx, "maintenance"))

	assert.Equal(t, []string{
		"announce:server_actions.stopping_discord",
		`stdin:txaKickAll "server_actions.stopping"`,
		"sleep:500ms",
		"terminate",
	}, h.rec.list())
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
}

type announcerFunc func(ctx context.Context, text string) error

func (f announcerFunc) SendAnnouncement(ctx context.Context, text string) error { return f(ctx, text) }

func TestKillWhileStartingAbortsSpawn(t *testing.T) {
	var (
		h      *harness
		killed bool
		state  domain.ServerState
	)
	h = newHarness(t, func(o *Options) {
		o.Announcer = announcerFunc(func(ctx context.Context, _ string) error {
			state = h.runner.State()
			killed = h.runner.Kill(ctx, "")
			return nil
		})
	})

	err := h.runner.Spawn(context.Background(), true)

	require.ErrorIs(t, err, domain.ErrNotRunning)
	assert.Equal(t, domain.ServerStateStarting, state)
	assert.True(t, killed)
	assert.Equal(t, []string{"start", "terminate"}, h.rec.list())
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
	assert.Equal(t, 0, h.runner.PID())
	assert.Equal(t, 0, h.clock.pending(priorityDelay))

	// The request is consumed: the next spawn runs normally.
	h.runner.announcer = nil
	require.NoError(t, h.runner.Spawn(context.Background(), true))
	assert.Equal(t, domain.ServerStateRunning, h.runner.State())
}

func TestCrashedStateUntilSpawnOrKill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	h.clock.advance(time.Minute)
	h.starter.last().exit(1)
	require.Eventually(t, func() bool {
		return h.runner.State() == domain.ServerStateCrashed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.runner.Spawn(ctx, false))
	assert.Equal(t, domain.ServerStateRunning, h.runner.State())

	h.clock.advance(time.Minute)
	h.starter.last().exit(1)
	require.Eventually(t, func() bool {
		return h.runner.State() == domain.ServerStateCrashed
	}, time.Second, 5*time.Millisecond)

	assert.True(t, h.runner.Kill(ctx, ""))
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
}

func TestRestartFailureWraps(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.ServerDataPath = "" })

	err := h.runner.Restart(context.Background(), "")

	assert.ErrorIs(t, err, domain.ErrRestartFailed)
	assert.ErrorIs(t, err, domain.ErrMissingConfig)
}

func TestUnexpectedExitCrashesWithoutRespawn(t *testing.T) {
	bus := eventbus.New(discardLogger())
	defer bus.Close()

	var (
		mu     sync.Mutex
		exited []domain.ServerEventPayload
	)
	bus.Subscribe(domain.EventServerExited, func(_ context.Context, e domain.Event) {
		var p domain.ServerEventPayload
		_ = json.Unmarshal(e.Payload, &p)
		mu.Lock()
		exited = append(exited, p)
		mu.Unlock()
	})

	h := newHarness(t, func(o *Options) { o.Bus = bus })
	require.NoError(t, h.runner.Spawn(context.Background(), false))

	h.starter.last().exit(3)

	require.Eventually(t, func() bool {
		return h.runner.State() == domain.ServerStateCrashed
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exited) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.NotNil(t, exited[0].ExitCode)
	assert.Equal(t, 3, *exited[0].ExitCode)
	assert.Equal(t, 1001, exited[0].PID)
	mu.Unlock()

	assert.Equal(t, 1, h.starter.started())
	assert.Equal(t, 0, h.runner.PID())
	// Exited within the first seconds: the "didn't start" notice is scheduled.
	assert.Eventually(t, func() bool {
		return h.clock.pending(earlyExitNotice) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLateExitSkipsStartNotice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Spawn(context.Background(), false))
	h.clock.advance(time.Minute)

	h.starter.last().exit(0)

	require.Eventually(t, func() bool {
		return h.runner.State() == domain.ServerStateCrashed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.clock.pending(earlyExitNotice))
}

func TestKilledProcessExitIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	require.True(t, h.runner.Kill(ctx, ""))
	require.NoError(t, h.runner.Spawn(ctx, false))

	assert.Never(t, func() bool {
		return h.runner.State() != domain.ServerStateRunning
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1002, h.runner.PID())
}

func TestPriorityAppliedAfterDelay(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Spawn(context.Background(), false))

	assert.Equal(t, 1, h.clock.fire(priorityDelay))
	assert.Equal(t, []string{"high@1001"}, h.priority.calls)
}

func TestPriorityCancelledByKill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runner.Spawn(ctx, false))
	h.runner.Kill(ctx, "")

	assert.Equal(t, 0, h.clock.fire(priorityDelay))
	assert.Empty(t, h.priority.calls)
}

func TestAutostart(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.Autostart = true })

	h.runner.Start(context.Background())
	assert.Equal(t, 0, h.starter.started())

	assert.Equal(t, 1, h.clock.fire(2*time.Second))
	assert.Equal(t, 1, h.starter.started())
	assert.Contains(t, h.rec.list(), "announce:server_actions.spawning_discord")
}

func TestAutostartDisabled(t *testing.T) {
	h := newHarness(t)

	h.runner.Start(context.Background())

	assert.Equal(t, 0, h.clock.pending(2*time.Second))
}

func TestRefreshConfigAppliesOnNextSpawn(t *testing.T) {
	h := newHarness(t)
	cfg := h.runner.cfg
	cfg.CommandLine = `+set sv_hostname "Fresh Name"`
	h.runner.RefreshConfig(cfg, h.runner.global)

	require.NoError(t, h.runner.Spawn(context.Background(), false))

	assert.Contains(t, h.runner.LaunchSpec().Args, "Fresh Name")
}

func TestCloseKillsServer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Spawn(context.Background(), false))

	h.runner.Close()

	assert.Contains(t, h.rec.list(), "terminate")
	assert.Equal(t, domain.ServerStateStopped, h.runner.State())
}
