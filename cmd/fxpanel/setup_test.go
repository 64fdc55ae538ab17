package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxpanel/internal/infra/config"
)

func TestSetupProfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles", "main")

	path, err := setupProfile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, config.FileName), path)

	for _, sub := range []string{"logs", "data", "locale"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "fxserver.log"), cfg.FXRunner.LogPath)
	assert.Equal(t, filepath.Join(dir, "data", "audit.db"), cfg.Audit.Path)
	assert.Len(t, cfg.FXRunner.APIToken, 32)
}

func TestSetupProfileTokensDiffer(t *testing.T) {
	a, err := setupProfile(t.TempDir())
	require.NoError(t, err)
	b, err := setupProfile(t.TempDir())
	require.NoError(t, err)

	cfgA, err := config.Load(a)
	require.NoError(t, err)
	cfgB, err := config.Load(b)
	require.NoError(t, err)
	assert.NotEqual(t, cfgA.FXRunner.APIToken, cfgB.FXRunner.APIToken)
}

func TestSetupProfileRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("global:\n  server_name: keep\n"), 0o600))

	_, err := setupProfile(dir)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keep")
}

func TestConfigPathFrom(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{"default", []string{"fxpanel"}, "", "config.yaml"},
		{"env", []string{"fxpanel"}, "/etc/fxpanel.yaml", "/etc/fxpanel.yaml"},
		{"config flag", []string{"fxpanel", "--config", "a.yaml"}, "/env.yaml", "a.yaml"},
		{"config equals", []string{"fxpanel", "--config=b.yaml"}, "", "b.yaml"},
		{"profile", []string{"fxpanel", "doctor", "--profile", "p"}, "", filepath.Join("p", "config.yaml")},
		{"profile equals", []string{"fxpanel", "--profile=q"}, "", filepath.Join("q", "config.yaml")},
		{"config wins", []string{"fxpanel", "--profile", "p", "--config", "c.yaml"}, "", "c.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, configPathFrom(tt.args, tt.env))
		})
	}
}
