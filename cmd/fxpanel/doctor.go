package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"fxpanel/internal/infra/config"
	"fxpanel/internal/usecase/fxrunner"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// goos is replaced in tests.
var goos = runtime.GOOS

// runDoctor executes all health checks and reports results to w.
func runDoctor(w io.Writer, cfgPath string) error {
	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Platform", Fn: checkPlatform},
		{Name: "FXServer install", Fn: checkInstall},
		{Name: "Server cfg", Fn: checkServerCfg},
		{Name: "Log directory", Fn: checkLogDir},
		{Name: "Gateway", Fn: checkGateway},
		{Name: "Announcements", Fn: checkAnnounce},
	}

	fmt.Fprintln(w, "fxpanel doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before starting fxpanel.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nfxpanel should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! fxpanel is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", cfgPath),
				Fix:     "Run 'fxpanel setup <profile-dir>' to create a profile",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and file permissions (0600)",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkPlatform(_ *config.Config) CheckResult {
	p, err := fxrunner.DetectPlatform(goos)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not supported", goos),
			Fix:     "Run fxpanel on Linux or Windows",
		}
	}
	return CheckResult{Status: StatusPass, Message: p.Name()}
}

// checkInstall resolves the launch spec and verifies the executable exists.
func checkInstall(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	fx := cfg.FXRunner
	if fx.InstallPath == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "fxrunner.install_path is not set",
			Fix:     "Point fxrunner.install_path at the FXServer artifacts directory",
		}
	}
	p, err := fxrunner.DetectPlatform(goos)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	spec, err := fxrunner.BuildLaunchSpec(p, fxrunner.LaunchInput{
		InstallPath: fx.InstallPath,
		DataPath:    fx.ServerDataPath,
		CfgPath:     fx.CfgPath,
		CommandLine: fx.CommandLine,
	})
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("launch arguments: %v", err),
			Fix:     "Check the quoting in fxrunner.command_line",
		}
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("executable not found: %s", spec.Path),
			Fix:     "Download the FXServer artifacts and set fxrunner.install_path",
		}
	}
	return CheckResult{Status: StatusPass, Message: spec.Path}
}

// checkServerCfg verifies the server cfg exists and declares a usable port.
func checkServerCfg(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	fx := cfg.FXRunner
	if fx.ServerDataPath == "" || fx.CfgPath == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "fxrunner.server_data_path and fxrunner.cfg_path are required",
			Fix:     "Set both paths in config.yaml",
		}
	}
	path := fxrunner.ResolveCfgPath(fx.CfgPath, fx.ServerDataPath)
	raw, err := fxrunner.ReadCfgFile(path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	port, err := fxrunner.DetectPort(raw)
	if err != nil {
		if cfg.Global.ForceFXServerPort > 0 {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%v; using forced port %d", err, cfg.Global.ForceFXServerPort),
			}
		}
		return CheckResult{
			Status:  StatusWarn,
			Message: err.Error(),
			Fix:     "Add endpoint_add_tcp/endpoint_add_udp lines sharing one port",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (port %d)", path, port)}
}

// checkLogDir verifies the console log directory is writable.
func checkLogDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir := filepath.Dir(cfg.FXRunner.LogPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable", dir),
			Fix:     "Fix the directory permissions or change fxrunner.log_path",
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return CheckResult{Status: StatusPass, Message: dir}
}

// checkGateway verifies the gateway address can be bound.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if cfg.Gateway.Auth.Type == "" {
		host, _, _ := net.SplitHostPort(cfg.Gateway.Addr)
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s is reachable without authentication", cfg.Gateway.Addr),
				Fix:     "Set gateway.auth.type: static with at least one token",
			}
		}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process using the port or change gateway.addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: cfg.Gateway.Addr}
}

func checkAnnounce(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	var targets []string
	if cfg.Discord.Enabled {
		targets = append(targets, "discord")
	}
	if cfg.Slack.Enabled {
		targets = append(targets, "slack")
	}
	if len(targets) == 0 {
		return CheckResult{Status: StatusWarn, Message: "no announcement targets enabled"}
	}
	return CheckResult{Status: StatusPass, Message: strings.Join(targets, ", ")}
}
