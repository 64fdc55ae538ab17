package fxrunner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/infra/tracer"
)

// Lifecycle timings.
const (
	priorityDelay   = 2500 * time.Millisecond
	kickDelay       = 500 * time.Millisecond
	earlyExitWindow = 5 * time.Second
	earlyExitNotice = 500 * time.Millisecond
)

// Options wires a Runner. Only Platform and Logger are required; nil
// collaborators are replaced with no-ops.
type Options struct {
	Config     config.FXRunnerConfig
	Global     config.GlobalConfig
	Platform   Platform
	Version    string
	Starter    Starter
	Clock      Clock
	Console    *ConsoleBuffer
	Priority   PrioritySetter
	Announcer  domain.Announcer
	Translator domain.Translator
	Auditor    domain.CommandAuditor
	Hitches    domain.HitchTracker
	Bus        domain.EventBus
	// OutputTap also receives the server's stdout, e.g. for hitch detection.
	OutputTap io.Writer
	Logger    *slog.Logger
}

// processExit is delivered by the waiter goroutine of generation gen.
type processExit struct {
	gen  uint64
	code int
	err  error
	at   time.Time
}

// Runner supervises a single FXServer process: spawn, kill, restart, exit
// handling and the stdin command bridge.
type Runner struct {
	mu        sync.Mutex
	cfg       config.FXRunnerConfig
	global    config.GlobalConfig
	state     domain.ServerState
	proc      Process
	gen       uint64
	launch    LaunchSpec
	startedAt time.Time
	port      int

	// killRequested is set by Kill while the state is starting.
	killRequested bool

	priorityTimer  Timer
	autostartTimer Timer

	writeMu    sync.Mutex
	captureSem chan struct{}

	exits    chan processExit
	stop     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	platform   Platform
	version    string
	starter    Starter
	clock      Clock
	console    *ConsoleBuffer
	priority   PrioritySetter
	announcer  domain.Announcer
	translator domain.Translator
	auditor    domain.CommandAuditor
	hitches    domain.HitchTracker
	bus        domain.EventBus
	tap        io.Writer
	logger     *slog.Logger
}

// New creates a Runner in the stopped state and starts its exit loop.
func New(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Starter == nil {
		opts.Starter = ExecStarter{WaitDelay: 5 * time.Second}
	}
	if opts.Console == nil {
		opts.Console = NewConsoleBuffer(ConsoleOptions{
			LogPath: opts.Config.LogPath,
			Lines:   opts.Config.ConsoleLines,
		}, opts.Clock, opts.Logger)
	}
	if opts.Priority == nil {
		opts.Priority = NewPrioritySetter(opts.Logger)
	}

	r := &Runner{
		cfg:        opts.Config,
		global:     opts.Global,
		state:      domain.ServerStateStopped,
		captureSem: make(chan struct{}, 1),
		exits:      make(chan processExit),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		platform:   opts.Platform,
		version:    opts.Version,
		starter:    opts.Starter,
		clock:      opts.Clock,
		console:    opts.Console,
		priority:   opts.Priority,
		announcer:  opts.Announcer,
		translator: opts.Translator,
		auditor:    opts.Auditor,
		hitches:    opts.Hitches,
		bus:        opts.Bus,
		tap:        opts.OutputTap,
		logger:     opts.Logger,
	}
	go r.loop()
	return r
}

// Start schedules the autostart spawn when it is enabled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cfg.Autostart {
		return
	}
	delay := r.cfg.AutostartDelay
	r.logger.Info("autostart scheduled", "delay", delay)
	r.autostartTimer = r.clock.AfterFunc(delay, func() {
		if err := r.Spawn(ctx, true); err != nil {
			r.logger.Error("autostart failed", "error", err)
		}
	})
}

// RefreshConfig replaces the settings used by the next spawn.
func (r *Runner) RefreshConfig(cfg config.FXRunnerConfig, global config.GlobalConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.global = global
	r.mu.Unlock()
	r.logger.Debug("fxrunner config refreshed")
}

// Spawn starts the server. A crashed runner settles to stopped first. It fails
// with ErrAlreadyRunning unless the runner is stopped and with ErrMissingConfig when the data or cfg path is
// unset. A Kill that arrives while starting terminates the new process and
// Spawn reports ErrNotRunning. The process outlives ctx.
func (r *Runner) Spawn(ctx context.Context, announce bool) (err error) {
	ctx, span := tracer.StartSpan(context.WithoutCancel(ctx), "fxrunner.spawn")
	defer func() { tracer.End(span, err) }()

	r.mu.Lock()
	if r.state == domain.ServerStateCrashed {
		r.state = domain.ServerStateStopped
	}
	if r.state != domain.ServerStateStopped {
		r.mu.Unlock()
		r.logger.Error("the server is already started")
		return domain.NewDomainError("Runner.Spawn", domain.ErrAlreadyRunning, "")
	}
	cfg, global := r.cfg, r.global
	if cfg.ServerDataPath == "" || cfg.CfgPath == "" {
		r.mu.Unlock()
		r.logger.Error("cannot start the server with missing configuration (server_data_path || cfg_path)")
		return domain.NewDomainError("Runner.Spawn", domain.ErrMissingConfig, "server_data_path, cfg_path")
	}
	spec, err := BuildLaunchSpec(r.platform, LaunchInput{
		InstallPath: cfg.InstallPath,
		DataPath:    cfg.ServerDataPath,
		CfgPath:     cfg.CfgPath,
		CommandLine: cfg.CommandLine,
		Onesync:     cfg.Onesync.Enabled(),
		Version:     r.version,
		APIPort:     cfg.APIPort,
		APIToken:    cfg.APIToken,
	})
	if err != nil {
		r.mu.Unlock()
		return domain.WrapOp("Runner.Spawn", err)
	}
	r.state = domain.ServerStateStarting
	r.killRequested = false
	r.mu.Unlock()

	r.logger.Info("starting FXServer")
	r.logger.Debug("executing", "path", spec.Path, "args", spec.Args, "dir", spec.Dir)

	port := r.detectPort(cfg, global)

	if r.hitches != nil {
		r.hitches.ClearHitches()
	}
	if announce {
		r.announce(ctx, "server_actions.spawning_discord", map[string]string{"servername": global.ServerName})
	}

	r.emit(ctx, domain.EventServerSpawning, domain.ServerEventPayload{Port: port})
	r.console.WriteHeader()
	startedAt := r.clock.Now()
	stdout := r.console.Writer(domain.ConsoleStdout)
	if r.tap != nil {
		stdout = io.MultiWriter(stdout, r.tap)
	}
	proc, err := r.starter.Start(ctx, spec, stdout, r.console.Writer(domain.ConsoleStderr))
	if err == nil && proc.PID() <= 0 {
		err = fmt.Errorf("execution of %q yielded no PID", spec.Path)
	}
	if err != nil {
		r.mu.Lock()
		r.state = domain.ServerStateStopped
		r.killRequested = false
		r.mu.Unlock()
		r.logger.Error("failed to start FXServer", "path", spec.Path, "error", err)
		osExit(1)
		return domain.NewDomainError("Runner.Spawn", domain.ErrProviderError, err.Error())
	}
	pid := proc.PID()

	r.mu.Lock()
	if r.killRequested {
		r.killRequested = false
		r.state = domain.ServerStateStopped
		r.mu.Unlock()
		r.abortStart(ctx, proc, port)
		return domain.NewDomainError("Runner.Spawn", domain.ErrNotRunning, "killed while starting")
	}
	r.gen++
	gen := r.gen
	r.proc = proc
	r.launch = spec
	r.startedAt = startedAt
	r.port = port
	r.state = domain.ServerStateRunning
	r.priorityTimer = r.clock.AfterFunc(priorityDelay, func() { r.applyPriority(gen) })
	r.mu.Unlock()

	go r.wait(gen, proc)

	span.SetAttributes(tracer.IntAttr("pid", pid), tracer.IntAttr("port", port))
	r.logger.Info("FXServer started", "pid", pid, "port", port)
	r.emit(ctx, domain.EventServerSpawned, domain.ServerEventPayload{PID: pid, Port: port})
	return nil
}

// abortStart terminates a process whose Kill arrived while it was starting.
func (r *Runner) abortStart(ctx context.Context, proc Process, port int) {
	pid := proc.PID()
	if err := proc.Terminate(); err != nil {
		r.logger.Error("couldn't kill the server", "pid", pid, "error", err)
	} else {
		r.logger.Info("FXServer killed while starting", "pid", pid)
	}
	go proc.Wait()
	r.emit(ctx, domain.EventServerKilled, domain.ServerEventPayload{PID: pid, Port: port})
}

// detectPort reads the endpoint port from the server cfg, falling back to the
// forced port. Zero means unknown; spawning continues either way.
func (r *Runner) detectPort(cfg config.FXRunnerConfig, global config.GlobalConfig) int {
	path := ResolveCfgPath(cfg.CfgPath, cfg.ServerDataPath)
	data, err := ReadCfgFile(path)
	var port int
	if err == nil {
		port, err = DetectPort(data)
	}
	if err == nil {
		return port
	}
	if global.ForceFXServerPort > 0 {
		r.logger.Warn("FXServer config error, using forced port", "error", err, "port", global.ForceFXServerPort)
		return global.ForceFXServerPort
	}
	r.logger.Warn("FXServer config error, port unknown", "cfg", path, "error", err)
	return 0
}

// Kill stops the server. With a reason, players are told (announcement and
// kick-all) and given kickDelay before the process is signalled. The handle is
// released even when signalling fails; the result reports signal delivery.
// While the server is starting the kill is deferred to the end of Spawn.
// Delays run to completion even if ctx is cancelled.
func (r *Runner) Kill(ctx context.Context, reason string) bool {
	ctx, span := tracer.StartSpan(context.WithoutCancel(ctx), "fxrunner.kill")
	defer span.End()

	if reason != "" && r.State() == domain.ServerStateRunning {
		r.warnPlayers(ctx, "stopping", reason)
	}

	r.mu.Lock()
	proc := r.proc
	if proc == nil {
		switch r.state {
		case domain.ServerStateStarting:
			r.killRequested = true
			r.mu.Unlock()
			r.logger.Info("kill requested while FXServer is starting", "reason", reason)
			return true
		case domain.ServerStateCrashed:
			r.state = domain.ServerStateStopped
		}
		r.mu.Unlock()
		return true
	}
	r.state = domain.ServerStateStopping
	r.proc = nil
	r.gen++ // the waiter of the killed process is now stale
	r.stopPriorityTimer()
	uptime := r.clock.Now().Sub(r.startedAt)
	port := r.port
	r.mu.Unlock()

	pid := proc.PID()
	err := proc.Terminate()

	r.mu.Lock()
	r.state = domain.ServerStateStopped
	r.port = 0
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("couldn't kill the server", "pid", pid, "error", err)
		tracer.RecordError(span, err)
	} else {
		r.logger.Info("FXServer killed", "pid", pid, "reason", reason)
	}
	r.emit(ctx, domain.EventServerKilled, domain.ServerEventPayload{
		PID: pid, Port: port, Reason: reason, Uptime: uptime.Round(time.Second).String(),
	})
	return err == nil
}

// Restart kills the server, waits RestartDelay and spawns it again. A stopped
// server is simply spawned. Once started, a restart is not cut short by ctx.
func (r *Runner) Restart(ctx context.Context, reason string) (err error) {
	ctx, span := tracer.StartSpan(context.WithoutCancel(ctx), "fxrunner.restart")
	defer func() { tracer.End(span, err) }()

	if reason != "" && r.State() == domain.ServerStateRunning {
		r.warnPlayers(ctx, "restarting", reason)
	}
	r.emit(ctx, domain.EventServerRestart, domain.ServerEventPayload{Reason: reason})

	r.Kill(ctx, "")

	r.mu.Lock()
	delay := r.cfg.RestartDelay
	r.mu.Unlock()
	if err := r.clock.Sleep(ctx, delay); err != nil {
		r.logger.Error("couldn't restart the server", "error", err)
		return fmt.Errorf("%w: %w", domain.ErrRestartFailed, err)
	}
	if err := r.Spawn(ctx, false); err != nil {
		r.logger.Error("couldn't restart the server", "error", err)
		return fmt.Errorf("%w: %w", domain.ErrRestartFailed, err)
	}
	return nil
}

// warnPlayers announces the action, kicks everyone with the translated
// message and waits kickDelay so the kick reaches clients.
func (r *Runner) warnPlayers(ctx context.Context, action, reason string) {
	r.mu.Lock()
	vars := map[string]string{"servername": r.global.ServerName, "reason": reason}
	r.mu.Unlock()

	r.announce(ctx, "server_actions."+action+"_discord", vars)
	kick := r.translate("server_actions."+action, vars)
	r.SendCommand(ctx, `txaKickAll "`+strings.ReplaceAll(kick, `"`, `\"`)+`"`)
	if err := r.clock.Sleep(ctx, kickDelay); err != nil {
		r.logger.Debug("kick delay interrupted", "error", err)
	}
}

func (r *Runner) announce(ctx context.Context, key string, vars map[string]string) {
	if r.announcer == nil {
		return
	}
	if err := r.announcer.SendAnnouncement(ctx, r.translate(key, vars)); err != nil {
		r.logger.Warn("announcement failed", "key", key, "error", err)
	}
}

func (r *Runner) translate(key string, vars map[string]string) string {
	if r.translator == nil {
		return key
	}
	return r.translator.T(key, vars)
}

// wait blocks on the process and hands its exit to the loop.
func (r *Runner) wait(gen uint64, p Process) {
	code, err := p.Wait()
	select {
	case r.exits <- processExit{gen: gen, code: code, err: err, at: r.clock.Now()}:
	case <-r.stop:
	}
}

// loop consumes process exits until Close.
func (r *Runner) loop() {
	defer close(r.loopDone)
	for {
		select {
		case ex := <-r.exits:
			r.handleExit(ex)
		case <-r.stop:
			return
		}
	}
}

func (r *Runner) handleExit(ex processExit) {
	r.mu.Lock()
	if ex.gen != r.gen || r.proc == nil {
		r.mu.Unlock()
		return
	}
	pid := r.proc.PID()
	port := r.port
	uptime := ex.at.Sub(r.startedAt)
	r.state = domain.ServerStateCrashed // until the next Spawn or Kill
	r.proc = nil
	r.stopPriorityTimer()
	r.port = 0
	r.mu.Unlock()

	r.logger.Warn("FXServer exited", "pid", pid, "code", ex.code, "uptime", uptime, "error", ex.err)
	code := ex.code
	r.emit(context.Background(), domain.EventServerExited, domain.ServerEventPayload{
		PID: pid, Port: port, ExitCode: &code, Uptime: uptime.Round(time.Second).String(),
	})

	if uptime <= earlyExitWindow {
		r.clock.AfterFunc(earlyExitNotice, func() {
			r.logger.Warn("FXServer didn't start. This is not an issue with fxpanel.")
		})
	}
}

func (r *Runner) applyPriority(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.proc == nil {
		r.mu.Unlock()
		return
	}
	pid := r.proc.PID()
	label := r.cfg.SetPriority
	r.mu.Unlock()

	r.priority.Apply(context.Background(), pid, label)
}

// stopPriorityTimer must be called with r.mu held.
func (r *Runner) stopPriorityTimer() {
	if r.priorityTimer != nil {
		r.priorityTimer.Stop()
		r.priorityTimer = nil
	}
}

func (r *Runner) emit(ctx context.Context, t domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	ev := domain.Event{Type: t, Timestamp: r.clock.Now()}
	if payload != nil {
		ev.Payload = mustJSON(payload)
	}
	r.bus.Publish(ctx, ev)
}

// Close cancels the autostart, kills the server, stops the exit loop and
// flushes the console log.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.autostartTimer != nil {
		r.autostartTimer.Stop()
	}
	r.mu.Unlock()

	r.Kill(context.Background(), "")
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.loopDone
	r.console.Close()
}

// State returns the lifecycle state.
func (r *Runner) State() domain.ServerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Port returns the detected endpoint port, 0 when unknown.
func (r *Runner) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

// PID returns the server PID, 0 when not running.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return 0
	}
	return r.proc.PID()
}

// Uptime returns how long the current process has been running.
func (r *Runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return 0
	}
	return r.clock.Now().Sub(r.startedAt)
}

// LaunchSpec returns the spec of the last spawn.
func (r *Runner) LaunchSpec() LaunchSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launch
}

// Recent returns the console ring snapshot.
func (r *Runner) Recent() []domain.ConsoleChunk {
	return r.console.Recent()
}

// Status returns a snapshot for status pages.
func (r *Runner) Status() domain.ServerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := domain.ServerStatus{
		State:   r.state,
		Port:    r.port,
		LogSize: r.console.Size(),
	}
	if r.proc != nil {
		started := r.startedAt
		st.PID = r.proc.PID()
		st.StartedAt = &started
		st.Uptime = r.clock.Now().Sub(started)
	}
	return st
}
