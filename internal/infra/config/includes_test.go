package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "discord.yaml", `
discord:
  enabled: true
  token: "from-include"
  announce_channel: "123"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "discord.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "from-include" {
		t.Errorf("token not loaded from include: %+v", cfg.Discord)
	}
}

func TestIncludesGlobPattern(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, subdir, "runner.yaml", `
fxrunner:
  server_data_path: "/srv/data"
`)
	writeConfigFile(t, subdir, "monitor.yaml", `
monitor:
  restarter_schedule: ["05:30"]
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FXRunner.ServerDataPath != "/srv/data" {
		t.Errorf("ServerDataPath = %q", cfg.FXRunner.ServerDataPath)
	}
	if len(cfg.Monitor.RestarterSchedule) != 1 {
		t.Errorf("RestarterSchedule = %v", cfg.Monitor.RestarterSchedule)
	}
}

func TestIncludesMainFileWins(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
global:
  server_name: "from include"
  language: "pt-BR"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes: ["base.yaml"]
global:
  server_name: "from main"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Global.ServerName != "from main" {
		t.Errorf("ServerName = %q, want main file value", cfg.Global.ServerName)
	}
	if cfg.Global.Language != "pt-BR" {
		t.Errorf("Language = %q, want included value", cfg.Global.Language)
	}
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "c.yaml", "fxrunner:\n  cfg_path: nested.cfg\n")
	writeConfigFile(t, dir, "b.yaml", "includes: [\"c.yaml\"]\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes: [\"b.yaml\"]\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FXRunner.CfgPath != "nested.cfg" {
		t.Errorf("CfgPath = %q", cfg.FXRunner.CfgPath)
	}
}

func TestIncludesCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes: [\"b.yaml\"]\n")
	writeConfigFile(t, dir, "b.yaml", "includes: [\"a.yaml\"]\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes: [\"a.yaml\"]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesEscape(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes: [\"../outside.yaml\"]\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func TestIncludesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes: [\"nope.yaml\"]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include")
	}
}

func TestIncludesEmptyGlob(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes: [\"conf.d/*.yaml\"]\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("empty glob should not fail: %v", err)
	}
}
