package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"fxpanel/internal/adapter/announce"
	"fxpanel/internal/adapter/auditlog"
	"fxpanel/internal/adapter/gateway"
	"fxpanel/internal/adapter/i18n"
	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/infra/logger"
	"fxpanel/internal/usecase/eventbus"
	"fxpanel/internal/usecase/fxrunner"
	"fxpanel/internal/usecase/monitor"
	"fxpanel/internal/usecase/restarter"
	"fxpanel/internal/usecase/scheduling"
)

const (
	statusLogInterval   = "5m"
	auditPurgeSchedule  = "04:30"
	customLocaleDirName = "locale"
)

// application holds every long-lived component of a running panel.
type application struct {
	cfg        *config.Config
	profileDir string
	log        *slog.Logger

	Platform   fxrunner.Platform
	Bus        *eventbus.Bus
	Translator *i18n.Translator
	Announcer  *announce.Multi
	Audit      domain.CommandAuditStore // nil when audit is disabled
	Monitor    *monitor.Monitor
	Runner     *fxrunner.Runner
	Scheduler  *scheduling.Scheduler
	Restarter  *restarter.Restarter
	Gateway    *gateway.Server // nil when the gateway is disabled
	Metrics    *gateway.Metrics
	Intercom   *gateway.Intercom

	unwatch func()
}

// initApp wires the panel. An unsupported platform exits the process.
func initApp(ctx context.Context, cfg *config.Config, profileDir string, log *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, profileDir: profileDir, log: log}

	app.Platform = fxrunner.MustDetectPlatform(runtime.GOOS, log)
	app.Bus = eventbus.New(logger.Component(log, "eventbus"))

	tr, err := i18n.New(cfg.Global.Language, app.localeDir(), logger.Component(log, "i18n"))
	if err != nil {
		return nil, fmt.Errorf("i18n: %w", err)
	}
	app.Translator = tr

	app.Announcer, err = announce.FromConfig(cfg, app.Bus, logger.Component(log, "announce"))
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}

	var auditor domain.CommandAuditor
	if cfg.Audit.Enabled {
		store, err := auditlog.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		app.Audit = store
		auditor = store
	}

	app.Monitor = monitor.New(cfg.Monitor.HitchWindow, app.Bus, logger.Component(log, "monitor"))
	app.unwatch = app.Monitor.Watch(app.Bus)

	app.Runner = fxrunner.New(fxrunner.Options{
		Config:     cfg.FXRunner,
		Global:     cfg.Global,
		Platform:   app.Platform,
		Version:    version,
		Announcer:  app.Announcer,
		Translator: app.Translator,
		Auditor:    auditor,
		Hitches:    app.Monitor,
		Bus:        app.Bus,
		OutputTap:  app.Monitor,
		Logger:     logger.Component(log, "fxrunner"),
	})

	app.Scheduler = scheduling.NewScheduler(logger.Component(log, "scheduling"))
	if err := app.registerTasks(); err != nil {
		return nil, err
	}

	app.Restarter = restarter.New(app.Runner, app.Scheduler, app.Translator, app.Announcer, app.Bus, logger.Component(log, "restarter"))
	if err := app.Restarter.Apply(cfg.Monitor); err != nil {
		return nil, fmt.Errorf("restarter: %w", err)
	}

	if cfg.Gateway.Enabled {
		app.Gateway = gateway.NewServer(app.Bus, gateway.AuthFromConfig(cfg.Gateway.Auth), cfg.Gateway, logger.Component(log, "gateway"))
		deps := gateway.HandlerDeps{
			Supervisor: app.Runner,
			Hitches:    app.Monitor,
			Translator: app.Translator,
			Bus:        app.Bus,
			Logger:     logger.Component(log, "gateway"),
		}
		if app.Audit != nil {
			deps.Audit = app.Audit
		}
		app.Metrics = gateway.RegisterRESTHandlers(app.Gateway, deps)
		app.Intercom = gateway.NewIntercom(cfg.FXRunner.APIToken, version, app.Runner, logger.Component(log, "intercom"))
		gateway.RegisterIntercom(app.Gateway, app.Intercom)
	}

	return app, nil
}

// registerTasks installs the housekeeping tasks.
func (a *application) registerTasks() error {
	a.Scheduler.RegisterAction(scheduling.ActionStatusLog, func(context.Context) error {
		st := a.Runner.Status()
		crashes, _ := a.Monitor.Crashes()
		a.log.Info("server status",
			"state", st.State,
			"pid", st.PID,
			"port", st.Port,
			"uptime", st.Uptime.Round(time.Second),
			"hitches", a.Monitor.HitchSummary(),
			"crashes", crashes,
		)
		return nil
	})
	if err := a.Scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "status-log",
		Schedule: statusLogInterval,
		Action:   scheduling.ActionStatusLog,
	}); err != nil {
		return fmt.Errorf("schedule status log: %w", err)
	}

	if a.Audit == nil || a.cfg.Audit.Retention <= 0 {
		return nil
	}
	a.Scheduler.RegisterAction(scheduling.ActionAuditRetention, func(ctx context.Context) error {
		n, err := a.Audit.Purge(ctx, time.Now().Add(-a.cfg.Audit.Retention))
		if err != nil {
			return err
		}
		a.log.Info("command audit purged", "removed", n)
		return nil
	})
	if err := a.Scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "audit-retention",
		Schedule: auditPurgeSchedule,
		Action:   scheduling.ActionAuditRetention,
	}); err != nil {
		return fmt.Errorf("schedule audit retention: %w", err)
	}
	return nil
}

// Start runs the scheduler, arms autostart and serves the gateway.
func (a *application) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.Runner.Start(ctx)

	if a.Gateway != nil {
		go func() {
			if err := a.Gateway.Start(ctx); err != nil {
				a.log.Error("gateway server error", "error", err)
			}
		}()
	}
	return nil
}

// Close stops the server and releases everything initApp opened.
func (a *application) Close(ctx context.Context) error {
	var errs []error
	if a.Gateway != nil {
		errs = append(errs, a.Gateway.Stop(ctx))
	}
	if a.Metrics != nil {
		a.Metrics.Close()
	}
	errs = append(errs, a.Scheduler.Stop())
	a.Runner.Close()
	if a.unwatch != nil {
		a.unwatch()
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	a.Bus.Close()
	return errors.Join(errs...)
}

func (a *application) localeDir() string {
	return filepath.Join(a.profileDir, customLocaleDirName)
}

// Reload re-reads the profile config and applies the parts that can change
// without restarting the panel: launch settings for the next spawn, the
// restart schedule and the language. Gateway, audit and announcer settings
// need a restart.
func (a *application) Reload(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := a.Restarter.Apply(cfg.Monitor); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := a.Translator.Load(cfg.Global.Language, a.localeDir()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	a.Runner.RefreshConfig(cfg.FXRunner, cfg.Global)
	if a.Intercom != nil {
		a.Intercom.SetToken(cfg.FXRunner.APIToken)
	}
	a.log.Info("config reloaded", "path", cfgPath, "language", cfg.Global.Language)
	return nil
}
