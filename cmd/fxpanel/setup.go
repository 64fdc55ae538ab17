package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fxpanel/internal/infra/config"
)

// setupProfile creates a server profile in dir: logs/, data/ and a default
// config.yaml with a fresh FXServer api token. An existing config is never
// overwritten.
func setupProfile(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve profile dir: %w", err)
	}
	path := filepath.Join(abs, config.FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("profile already exists at %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("check profile: %w", err)
	}

	for _, sub := range []string{"logs", "data", customLocaleDirName} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o750); err != nil {
			return "", fmt.Errorf("create %s: %w", sub, err)
		}
	}

	cfg := config.Defaults(abs)
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return "", fmt.Errorf("generate api token: %w", err)
	}
	cfg.FXRunner.APIToken = hex.EncodeToString(token)
	if err := config.Save(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}
