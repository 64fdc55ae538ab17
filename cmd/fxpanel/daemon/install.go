// Package daemon installs fxpanel as a boot-time service: a systemd unit on
// Linux and a scheduled task on Windows.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/template"
)

// DefaultName is the service name used when none is given.
const DefaultName = "fxpanel"

// DaemonConfig holds parameters for daemon installation.
type DaemonConfig struct {
	Name       string
	BinaryPath string
	ConfigPath string
	WorkDir    string
	User       string
	LogPath    string
	HomeDir    string
}

// DaemonStatus holds the status of an installed daemon.
type DaemonStatus struct {
	Running bool
	PID     int
}

// runCommand is replaced in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// DefaultConfig returns a DaemonConfig with auto-detected defaults.
func DefaultConfig() DaemonConfig {
	binary, _ := os.Executable()
	if binary == "" {
		binary = "/usr/local/bin/" + DefaultName
	}

	u, _ := user.Current()
	username := "root"
	homeDir := "/root"
	if u != nil {
		username = u.Username
		homeDir = u.HomeDir
	}

	workDir := filepath.Join(homeDir, ".local", "share", DefaultName)
	return DaemonConfig{
		Name:       DefaultName,
		BinaryPath: binary,
		ConfigPath: filepath.Join(workDir, "config.yaml"),
		WorkDir:    workDir,
		User:       username,
		LogPath:    filepath.Join(workDir, "logs"),
		HomeDir:    homeDir,
	}
}

// Validate checks the DaemonConfig for correctness.
func (c *DaemonConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("daemon name is required")
	}
	if c.BinaryPath == "" {
		return fmt.Errorf("binary path is required")
	}
	info, err := os.Stat(c.BinaryPath)
	if err != nil {
		return fmt.Errorf("binary %q: %w", c.BinaryPath, err)
	}
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return fmt.Errorf("binary %q is not executable", c.BinaryPath)
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("config path is required")
	}
	return nil
}

// Install installs the daemon on the current platform.
func Install(cfg DaemonConfig) error {
	return install(runtime.GOOS, cfg)
}

func install(goos string, cfg DaemonConfig) error {
	switch goos {
	case "linux":
		return installSystemd(cfg, "/etc/systemd/system")
	case "windows":
		return installTask(cfg)
	default:
		return fmt.Errorf("unsupported platform: %s", goos)
	}
}

// Uninstall removes the daemon on the current platform.
func Uninstall(name string) error {
	switch runtime.GOOS {
	case "linux":
		return uninstallSystemd(name, "/etc/systemd/system")
	case "windows":
		return uninstallTask(name)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// Status returns the daemon status on the current platform.
func Status(name string) (*DaemonStatus, error) {
	switch runtime.GOOS {
	case "linux":
		return statusSystemd(name)
	case "windows":
		return statusTask(name)
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// --- systemd ---

// KillMode=mixed lets fxpanel stop FXServer itself before systemd reaps the rest.
const systemdTemplate = `[Unit]
Description={{.Name}} FXServer supervisor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.BinaryPath}} --config {{.ConfigPath}}
WorkingDirectory={{.WorkDir}}
User={{.User}}
Restart=on-failure
RestartSec=5
KillMode=mixed
TimeoutStopSec=30
StandardOutput=append:{{.LogPath}}/{{.Name}}.log
StandardError=append:{{.LogPath}}/{{.Name}}.log
Environment=HOME={{.HomeDir}}

[Install]
WantedBy=multi-user.target
`

// RenderSystemdUnit renders the systemd service file content.
func RenderSystemdUnit(cfg DaemonConfig) (string, error) {
	tmpl, err := template.New("systemd").Parse(systemdTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func installSystemd(cfg DaemonConfig, unitDir string) error {
	content, err := RenderSystemdUnit(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogPath, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	unitPath := filepath.Join(unitDir, cfg.Name+".service")
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	cmds := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", cfg.Name},
		{"systemctl", "start", cfg.Name},
	}
	for _, args := range cmds {
		if out, err := runCommand(args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(args, " "), out, err)
		}
	}
	return nil
}

func uninstallSystemd(name, unitDir string) error {
	// Best effort: the unit may already be stopped or disabled.
	runCommand("systemctl", "stop", name)
	runCommand("systemctl", "disable", name)

	if err := os.Remove(filepath.Join(unitDir, name+".service")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	runCommand("systemctl", "daemon-reload")
	return nil
}

func statusSystemd(name string) (*DaemonStatus, error) {
	out, err := runCommand("systemctl", "is-active", name)
	running := strings.TrimSpace(string(out)) == "active"
	if err != nil && !running {
		return &DaemonStatus{Running: false}, nil
	}

	status := &DaemonStatus{Running: running}
	if pidOut, err := runCommand("systemctl", "show", "--property=MainPID", name); err == nil {
		if _, v, ok := strings.Cut(strings.TrimSpace(string(pidOut)), "="); ok {
			status.PID, _ = strconv.Atoi(v)
		}
	}
	return status, nil
}

// --- Windows scheduled task ---

// TaskCreateArgs returns the schtasks arguments that register fxpanel to run
// at boot as SYSTEM.
func TaskCreateArgs(cfg DaemonConfig) []string {
	action := fmt.Sprintf(`"%s" --config "%s"`, cfg.BinaryPath, cfg.ConfigPath)
	return []string{
		"/Create", "/F",
		"/TN", cfg.Name,
		"/SC", "ONSTART",
		"/RU", "SYSTEM",
		"/RL", "HIGHEST",
		"/TR", action,
	}
}

func installTask(cfg DaemonConfig) error {
	if err := os.MkdirAll(cfg.LogPath, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if out, err := runCommand("schtasks", TaskCreateArgs(cfg)...); err != nil {
		return fmt.Errorf("schtasks create: %s: %w", out, err)
	}
	if out, err := runCommand("schtasks", "/Run", "/TN", cfg.Name); err != nil {
		return fmt.Errorf("schtasks run: %s: %w", out, err)
	}
	return nil
}

func uninstallTask(name string) error {
	runCommand("schtasks", "/End", "/TN", name) // best effort
	if out, err := runCommand("schtasks", "/Delete", "/F", "/TN", name); err != nil {
		return fmt.Errorf("schtasks delete: %s: %w", out, err)
	}
	return nil
}

func statusTask(name string) (*DaemonStatus, error) {
	out, err := runCommand("schtasks", "/Query", "/TN", name, "/FO", "LIST")
	if err != nil {
		return &DaemonStatus{Running: false}, nil
	}
	return &DaemonStatus{Running: parseTaskStatus(string(out)) == "Running"}, nil
}

// parseTaskStatus extracts the Status field of schtasks /FO LIST output.
func parseTaskStatus(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(k) == "Status" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
