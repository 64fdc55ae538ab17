package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includer merges the files named by Config.Includes, tracking visited
// absolute paths to reject cycles.
type includer struct {
	visited map[string]bool
}

func newIncluder(root string) *includer {
	return &includer{visited: map[string]bool{root: true}}
}

// apply overlays every include of cfg onto cfg. baseDir is the directory of
// the file that declared the includes.
func (in *includer) apply(cfg *Config, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := expandInclude(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if in.visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			in.visited[abs] = true

			if err := in.merge(cfg, abs, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// merge unmarshals one included file over cfg and follows its own includes.
func (in *includer) merge(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}
	return in.apply(cfg, filepath.Dir(path), depth)
}

// expandInclude resolves pattern (which may be a glob) relative to baseDir.
// Relative patterns may not escape baseDir.
func expandInclude(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}
	// A literal path that does not exist is reported by merge; an empty glob is fine.
	if strings.ContainsAny(pattern, "*?[") {
		return nil, nil
	}
	return []string{pattern}, nil
}
