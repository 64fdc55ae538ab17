package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fxpanel/cmd/fxpanel/daemon"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/infra/logger"
	"fxpanel/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println("fxpanel " + version)
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "setup":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fxpanel setup <profile-dir>")
			os.Exit(1)
		}
		path, err := setupProfile(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "setup: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Profile created. Edit %s and run: fxpanel --config %s\n", path, path)
	case "daemon":
		if err := runDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Stdout, configPath()); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'fxpanel --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`fxpanel - FXServer supervisor and control panel

USAGE:
    fxpanel [COMMAND] [FLAGS]

COMMANDS:
    setup <dir>  Create a server profile (config.yaml, logs/, data/)
    daemon       Manage fxpanel as a system service
                 Subcommands: install, uninstall, status
    doctor       Check the profile, platform and FXServer install
    version      Print the version

    (no command) - Supervise the server with an existing profile

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ./config.yaml)
    --profile DIR      Profile directory; uses DIR/config.yaml

CONFIGURATION:
    Environment: FXPANEL_* variables override config
    FXPANEL_CONFIG_KEY decrypts enc: secrets
    SIGHUP reloads launch settings, restart schedule and language

EXAMPLES:
    fxpanel setup ./profiles/main
    fxpanel --profile ./profiles/main
    fxpanel daemon install --profile ./profiles/main
    fxpanel doctor --profile ./profiles/main`)
}

// configPath resolves --config, --profile and FXPANEL_CONFIG, in that order.
func configPath() string {
	return configPathFrom(os.Args, os.Getenv("FXPANEL_CONFIG"))
}

func configPathFrom(args []string, env string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	for i, arg := range args {
		switch {
		case arg == "--profile" && i+1 < len(args):
			return filepath.Join(args[i+1], config.FileName)
		case strings.HasPrefix(arg, "--profile="):
			return filepath.Join(strings.TrimPrefix(arg, "--profile="), config.FileName)
		}
	}
	if env != "" {
		return env
	}
	return config.FileName
}

func run() error {
	cfgPath := configPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		fmt.Printf("No profile found at %s.\nRun: fxpanel setup <profile-dir>\n", cfgPath)
		return nil
	}

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Components
	app, err := initApp(ctx, cfg, filepath.Dir(cfgPath), log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	// 5. Start
	if err := app.Start(ctx); err != nil {
		return err
	}
	log.Info("fxpanel started",
		"version", version,
		"server", cfg.Global.ServerName,
		"platform", app.Platform.Name(),
		"announcers", app.Announcer.Names(),
		"gateway", cfg.Gateway.Enabled,
		"audit", cfg.Audit.Enabled,
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-hup:
			if err := app.Reload(cfgPath); err != nil {
				log.Error("config reload failed", "error", err)
			}
		case <-ctx.Done():
			log.Info("fxpanel stopping")
			return nil
		}
	}
}

func runDaemon() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: fxpanel daemon <install|uninstall|status>")
	}

	switch os.Args[2] {
	case "install":
		cfg := daemon.DefaultConfig()
		path, err := filepath.Abs(configPath())
		if err != nil {
			return err
		}
		cfg.ConfigPath = path
		cfg.WorkDir = filepath.Dir(path)
		cfg.LogPath = filepath.Join(cfg.WorkDir, "logs")
		if err := cfg.Validate(); err != nil {
			return err
		}
		return daemon.Install(cfg)
	case "uninstall":
		return daemon.Uninstall(daemon.DefaultName)
	case "status":
		status, err := daemon.Status(daemon.DefaultName)
		if err != nil {
			return err
		}
		if status.Running {
			fmt.Printf("fxpanel is running (PID %d)\n", status.PID)
		} else {
			fmt.Println("fxpanel is not running")
		}
		return nil
	default:
		return fmt.Errorf("unknown daemon command: %s (want: install, uninstall, status)", os.Args[2])
	}
}
