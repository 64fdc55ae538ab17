package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fxpanel/internal/infra/config"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func setGOOS(t *testing.T, v string) {
	t.Helper()
	prev := goos
	goos = v
	t.Cleanup(func() { goos = prev })
}

func TestCheckConfigFile_NotFound(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/config.yaml", nil)(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, cfgPath, "global: [")

	result := checkConfigFile(cfgPath, &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, cfgPath, "global:\n  server_name: test\n")

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckPlatform(t *testing.T) {
	setGOOS(t, "linux")
	if r := checkPlatform(nil); r.Status != StatusPass || r.Message != "linux" {
		t.Errorf("linux: %+v", r)
	}

	setGOOS(t, "darwin")
	if r := checkPlatform(nil); r.Status != StatusFail {
		t.Errorf("darwin: %+v", r)
	}
}

func TestChecksRequireConfig(t *testing.T) {
	for name, fn := range map[string]func(*config.Config) CheckResult{
		"install":  checkInstall,
		"cfg":      checkServerCfg,
		"logdir":   checkLogDir,
		"gateway":  checkGateway,
		"announce": checkAnnounce,
	} {
		if r := fn(nil); r.Status != StatusFail {
			t.Errorf("%s with nil config: %s", name, r.Status)
		}
	}
}

func TestCheckInstall(t *testing.T) {
	setGOOS(t, "windows")
	dir := t.TempDir()
	cfg := config.Defaults(dir)

	if r := checkInstall(cfg); r.Status != StatusFail || !strings.Contains(r.Message, "install_path") {
		t.Errorf("unset install path: %+v", r)
	}

	cfg.FXRunner.InstallPath = dir
	if r := checkInstall(cfg); r.Status != StatusFail || !strings.Contains(r.Message, "FXServer.exe") {
		t.Errorf("missing binary: %+v", r)
	}

	writeTestFile(t, filepath.Join(dir, "FXServer.exe"), "")
	if r := checkInstall(cfg); r.Status != StatusPass {
		t.Errorf("present binary: %+v", r)
	}

	cfg.FXRunner.CommandLine = `+set "unterminated`
	if r := checkInstall(cfg); r.Status != StatusFail {
		t.Errorf("bad command line: %+v", r)
	}
}

func TestCheckServerCfg(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults(dir)

	if r := checkServerCfg(cfg); r.Status != StatusFail {
		t.Errorf("unset paths: %+v", r)
	}

	cfg.FXRunner.ServerDataPath = dir
	cfg.FXRunner.CfgPath = "server.cfg"
	if r := checkServerCfg(cfg); r.Status != StatusFail {
		t.Errorf("missing cfg: %+v", r)
	}

	writeTestFile(t, filepath.Join(dir, "server.cfg"), "sv_hostname test\n")
	if r := checkServerCfg(cfg); r.Status != StatusWarn {
		t.Errorf("no endpoints: %+v", r)
	}

	cfg.Global.ForceFXServerPort = 30125
	if r := checkServerCfg(cfg); r.Status != StatusWarn || !strings.Contains(r.Message, "30125") {
		t.Errorf("forced port: %+v", r)
	}

	writeTestFile(t, filepath.Join(dir, "server.cfg"),
		"endpoint_add_tcp \"0.0.0.0:30120\"\nendpoint_add_udp \"0.0.0.0:30120\"\n")
	if r := checkServerCfg(cfg); r.Status != StatusPass || !strings.Contains(r.Message, "port 30120") {
		t.Errorf("valid cfg: %+v", r)
	}
}

func TestCheckLogDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults(dir)

	if r := checkLogDir(cfg); r.Status != StatusPass {
		t.Errorf("writable: %+v", r)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestCheckGateway(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	if r := checkGateway(cfg); r.Status != StatusPass || r.Message != "disabled" {
		t.Errorf("disabled: %+v", r)
	}

	cfg.Gateway.Enabled = true
	cfg.Gateway.Addr = "127.0.0.1:0"
	if r := checkGateway(cfg); r.Status != StatusPass {
		t.Errorf("loopback: %+v", r)
	}

	cfg.Gateway.Addr = "0.0.0.0:0"
	if r := checkGateway(cfg); r.Status != StatusWarn {
		t.Errorf("public without auth: %+v", r)
	}
}

func TestCheckAnnounce(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	if r := checkAnnounce(cfg); r.Status != StatusWarn {
		t.Errorf("none: %+v", r)
	}
	cfg.Discord.Enabled = true
	cfg.Slack.Enabled = true
	if r := checkAnnounce(cfg); r.Status != StatusPass || r.Message != "discord, slack" {
		t.Errorf("both: %+v", r)
	}
}

func TestRunDoctorMissingConfig(t *testing.T) {
	var buf bytes.Buffer
	err := runDoctor(&buf, filepath.Join(t.TempDir(), "config.yaml"))
	if err == nil {
		t.Fatal("expected failure without a config")
	}
	out := buf.String()
	if !strings.Contains(out, "[FAIL] Config file") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, "Results:") {
		t.Errorf("missing summary:\n%s", out)
	}
}
