package domain

import (
	"context"
	"time"
)

// ServerState is the lifecycle state of the supervised FXServer process.
type ServerState string

const (
	ServerStateStopped  ServerState = "stopped"
	ServerStateStarting ServerState = "starting"
	ServerStateRunning  ServerState = "running"
	ServerStateStopping ServerState = "stopping"
	ServerStateCrashed  ServerState = "crashed"
)

// Alive reports whether a process handle exists in this state.
func (s ServerState) Alive() bool {
	return s == ServerStateStarting || s == ServerStateRunning || s == ServerStateStopping
}

// ConsoleKind tags a chunk of console output by its origin.
type ConsoleKind string

const (
	ConsoleStdout  ConsoleKind = "stdout"
	ConsoleStderr  ConsoleKind = "stderr"
	ConsoleCommand ConsoleKind = "command"
	ConsoleHeader  ConsoleKind = "header"
)

// ConsoleChunk is one unit of captured console output.
type ConsoleChunk struct {
	Kind ConsoleKind `json:"kind"`
	Text string      `json:"text"`
	At   time.Time   `json:"at"`
}

// ServerStatus is a read-only snapshot of the supervisor.
type ServerStatus struct {
	State     ServerState   `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	LogSize   int64         `json:"log_size"`
	Hitches   string        `json:"hitches,omitempty"`
}

// ServerEventPayload is the JSON payload of server.* events.
type ServerEventPayload struct {
	PID      int    `json:"pid,omitempty"`
	Port     int    `json:"port,omitempty"`
	Reason   string `json:"reason,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
}

// Announcer delivers operator-facing announcements (Discord, Slack, ...).
type Announcer interface {
	SendAnnouncement(ctx context.Context, text string) error
}

// Translator formats localized, human-readable strings.
type Translator interface {
	T(key string, vars map[string]string) string
}

// HitchTracker records server performance stalls. The supervisor clears it on every spawn.
type HitchTracker interface {
	ClearHitches()
}

// CommandAuditor keeps the audit trail of commands sent to the server.
type CommandAuditor interface {
	RecordCommand(ctx context.Context, entry CommandAuditEntry) error
}
