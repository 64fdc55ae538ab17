package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Missing server paths are not errors here: the supervisor refuses to spawn
// until they are set.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateFXRunner(cfg, ve)
	validateMonitor(cfg, ve)
	validateAnnounce(cfg, ve)
	validateGateway(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

var validOnesyncModes = map[OnesyncMode]bool{OnesyncOn: true, OnesyncLegacy: true, OnesyncOff: true}

var validPriorities = map[string]bool{
	"":             true,
	"low":          true,
	"below_normal": true,
	"normal":       true,
	"above_normal": true,
	"high":         true,
	"highest":      true,
}

func validateFXRunner(cfg *Config, ve *ValidationError) {
	fx := cfg.FXRunner
	if !validOnesyncModes[fx.Onesync] {
		ve.Add("fxrunner.onesync %q must be on, legacy or off", fx.Onesync)
	}
	if !validPriorities[strings.ToLower(fx.SetPriority)] {
		ve.Add("fxrunner.set_priority %q is not a known priority", fx.SetPriority)
	}
	if fx.AutostartDelay < 0 {
		ve.Add("fxrunner.autostart_delay must be >= 0")
	}
	if fx.RestartDelay < 0 {
		ve.Add("fxrunner.restart_delay must be >= 0")
	}
	if fx.ConsoleLines <= 0 {
		ve.Add("fxrunner.console_lines must be > 0")
	}
	if fx.CaptureWindow <= 0 {
		ve.Add("fxrunner.capture_window must be > 0")
	}
	if fx.LogPath == "" {
		ve.Add("fxrunner.log_path is required")
	}
	if fx.APIPort < 0 || fx.APIPort > 65535 {
		ve.Add("fxrunner.api_port %d is out of range", fx.APIPort)
	}
	if p := cfg.Global.ForceFXServerPort; p < 0 || p > 65535 {
		ve.Add("global.force_fxserver_port %d is out of range", p)
	}
}

func validateMonitor(cfg *Config, ve *ValidationError) {
	for i, entry := range cfg.Monitor.RestarterSchedule {
		if _, err := time.Parse("15:04", entry); err != nil {
			ve.Add("monitor.restarter_schedule[%d] %q must be HH:MM", i, entry)
		}
	}
	for i, m := range cfg.Monitor.ScheduleWarnings {
		if m <= 0 {
			ve.Add("monitor.schedule_warnings[%d] must be > 0", i)
		}
	}
	if cfg.Monitor.HitchWindow <= 0 {
		ve.Add("monitor.hitch_window must be > 0")
	}
}

func validateAnnounce(cfg *Config, ve *ValidationError) {
	if cfg.Discord.Enabled {
		if cfg.Discord.Token == "" {
			ve.Add("discord.token is required when discord is enabled")
		}
		if cfg.Discord.AnnounceChannel == "" {
			ve.Add("discord.announce_channel is required when discord is enabled")
		}
	}
	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" {
			ve.Add("slack.bot_token is required when slack is enabled")
		}
		if cfg.Slack.AnnounceChannel == "" {
			ve.Add("slack.announce_channel is required when slack is enabled")
		}
	}
	cb := cfg.Announce.CircuitBreaker
	if cb.Enabled && cb.MaxFailures == 0 {
		ve.Add("announce.circuit_breaker.max_failures must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token is required", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q must be static or empty", cfg.Gateway.Auth.Type)
	}
	if cfg.Gateway.RateLimit.RequestsPerMin < 0 || cfg.Gateway.RateLimit.Burst < 0 {
		ve.Add("gateway.rate_limit values must be >= 0")
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.Audit.Retention < 0 {
		ve.Add("audit.retention must be >= 0")
	}
}
