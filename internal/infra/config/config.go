package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the panel config inside a server profile directory.
const FileName = "config.yaml"

// Config is the top-level panel configuration.
type Config struct {
	Global   GlobalConfig   `yaml:"global"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	FXRunner FXRunnerConfig `yaml:"fxrunner"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Announce AnnounceConfig `yaml:"announce"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Audit    AuditConfig    `yaml:"audit"`
	Includes []string       `yaml:"includes,omitempty"`
}

// GlobalConfig holds panel-wide settings.
type GlobalConfig struct {
	ServerName        string `yaml:"server_name"`
	Language          string `yaml:"language"`
	ForceFXServerPort int    `yaml:"force_fxserver_port,omitempty"`
	Verbose           bool   `yaml:"verbose"`
}

// OnesyncMode is the onesync setting of the server: "on", "legacy" or "off".
// Older profiles stored it as a boolean, which is accepted and converted.
type OnesyncMode string

const (
	OnesyncOn     OnesyncMode = "on"
	OnesyncLegacy OnesyncMode = "legacy"
	OnesyncOff    OnesyncMode = "off"
)

// UnmarshalYAML accepts both the string form and the legacy boolean form.
func (m *OnesyncMode) UnmarshalYAML(node *yaml.Node) error {
	if node.ShortTag() == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			*m = OnesyncOn
		} else {
			*m = OnesyncOff
		}
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*m = OnesyncMode(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

// Enabled reports the value passed to the server as onesync_enabled.
func (m OnesyncMode) Enabled() bool {
	return m == OnesyncOn || m == OnesyncLegacy
}

// FXRunnerConfig holds the FXServer supervisor settings.
type FXRunnerConfig struct {
	InstallPath    string        `yaml:"install_path"`     // directory holding FXServer(.exe) or run.sh
	ServerDataPath string        `yaml:"server_data_path"` // working directory of the server
	CfgPath        string        `yaml:"cfg_path"`         // server.cfg, relative to server_data_path unless absolute
	CommandLine    string        `yaml:"command_line"`     // extra launch arguments
	Onesync        OnesyncMode   `yaml:"onesync"`
	Autostart      bool          `yaml:"autostart"`
	AutostartDelay time.Duration `yaml:"autostart_delay"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
	SetPriority    string        `yaml:"set_priority"`
	LogPath        string        `yaml:"log_path"`
	ConsoleLines   int           `yaml:"console_lines"`
	CaptureWindow  time.Duration `yaml:"capture_window"`
	APIPort        int           `yaml:"api_port"`
	APIToken       string        `yaml:"api_token"`
}

// MonitorConfig holds restart schedule and health settings.
type MonitorConfig struct {
	RestarterSchedule []string      `yaml:"restarter_schedule"` // "HH:MM" entries
	ScheduleWarnings  []int         `yaml:"schedule_warnings"`  // minutes before a scheduled restart
	HitchWindow       time.Duration `yaml:"hitch_window"`
}

// AnnounceConfig holds settings shared by all announcers.
type AnnounceConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for announcers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// DiscordConfig holds Discord announcement settings.
type DiscordConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Token           string `yaml:"token"`
	AnnounceChannel string `yaml:"announce_channel"`
}

// SlackConfig holds Slack announcement settings.
type SlackConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BotToken        string `yaml:"bot_token"`
	AnnounceChannel string `yaml:"announce_channel"`
}

// GatewayConfig holds control gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// RateLimitConfig holds per-client gateway rate limits.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// AuditConfig holds command audit log settings.
type AuditConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults for a profile rooted at profileDir.
// An empty profileDir resolves paths against the working directory.
func Defaults(profileDir string) *Config {
	return &Config{
		Global: GlobalConfig{
			ServerName: "FXServer",
			Language:   "en",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		FXRunner: FXRunnerConfig{
			Onesync:        OnesyncOff,
			Autostart:      false,
			AutostartDelay: 2 * time.Second,
			RestartDelay:   1250 * time.Millisecond,
			LogPath:        filepath.Join(profileDir, "logs", "fxserver.log"),
			ConsoleLines:   10,
			CaptureWindow:  1500 * time.Millisecond,
			APIPort:        40120,
		},
		Monitor: MonitorConfig{
			ScheduleWarnings: []int{30, 15, 10, 5, 4, 3, 2, 1},
			HitchWindow:      60 * time.Second,
		},
		Announce: AnnounceConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 3,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    "127.0.0.1:40120",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      filepath.Join(profileDir, "data", "audit.db"),
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// Defaults are rooted at the directory that contains path.
func Load(path string) (*Config, error) {
	cfg := Defaults(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		inc := newIncluder(absPath)
		if err := inc.apply(cfg, filepath.Dir(absPath), 0); err != nil {
			return nil, err
		}
		// The main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("FXPANEL_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path with owner-only permissions. It refuses to
// overwrite an existing file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

// ApplyEnvOverrides maps FXPANEL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FXPANEL_SERVER_NAME"); v != "" {
		cfg.Global.ServerName = v
	}
	if v := os.Getenv("FXPANEL_LANGUAGE"); v != "" {
		cfg.Global.Language = v
	}
	if v := os.Getenv("FXPANEL_FORCE_FXSERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Global.ForceFXServerPort = n
		}
	}
	if v := os.Getenv("FXPANEL_VERBOSE"); v == "true" {
		cfg.Global.Verbose = true
		cfg.Logger.Level = "debug"
	}
	if v := os.Getenv("FXPANEL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FXPANEL_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FXPANEL_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FXPANEL_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	if v := os.Getenv("FXPANEL_FXSERVER_INSTALL_PATH"); v != "" {
		cfg.FXRunner.InstallPath = v
	}
	if v := os.Getenv("FXPANEL_FXSERVER_DATA_PATH"); v != "" {
		cfg.FXRunner.ServerDataPath = v
	}
	if v := os.Getenv("FXPANEL_FXSERVER_CFG_PATH"); v != "" {
		cfg.FXRunner.CfgPath = v
	}
	if v := os.Getenv("FXPANEL_FXSERVER_COMMAND_LINE"); v != "" {
		cfg.FXRunner.CommandLine = v
	}
	if v := os.Getenv("FXPANEL_FXSERVER_AUTOSTART"); v != "" {
		cfg.FXRunner.Autostart = v == "true"
	}
	if v := os.Getenv("FXPANEL_FXSERVER_SET_PRIORITY"); v != "" {
		cfg.FXRunner.SetPriority = v
	}
	if v := os.Getenv("FXPANEL_FXSERVER_API_TOKEN"); v != "" && cfg.FXRunner.APIToken == "" {
		cfg.FXRunner.APIToken = v
	}

	if v := os.Getenv("FXPANEL_RESTARTER_SCHEDULE"); v != "" {
		cfg.Monitor.RestarterSchedule = splitAndTrim(v, ",")
	}

	if v := os.Getenv("FXPANEL_DISCORD_TOKEN"); v != "" && cfg.Discord.Token == "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("FXPANEL_SLACK_BOT_TOKEN"); v != "" && cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = v
	}

	if v := os.Getenv("FXPANEL_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("FXPANEL_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("FXPANEL_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
			Token: v,
			Name:  "env",
			Roles: []string{"admin"},
		})
	}

	if v := os.Getenv("FXPANEL_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// 0600 and 0644 are fine; group/world write is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
