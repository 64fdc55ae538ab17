package domain

import (
	"context"
	"time"
)

// AuditSource identifies who issued a command.
type AuditSource string

const (
	AuditSourceOperator  AuditSource = "operator"
	AuditSourceSystem    AuditSource = "system"
	AuditSourceScheduler AuditSource = "scheduler"
)

// CommandAuditEntry is one command written to the server's stdin.
type CommandAuditEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Source    AuditSource `json:"source"`
	Actor     string      `json:"actor,omitempty"`
	Command   string      `json:"command"`
	Success   bool        `json:"success"`
}

// CommandAuditStore is a queryable CommandAuditor.
type CommandAuditStore interface {
	CommandAuditor
	Recent(ctx context.Context, limit int) ([]CommandAuditEntry, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

type auditActorKey struct{}

// WithAuditActor attaches the issuing actor and source to ctx.
func WithAuditActor(ctx context.Context, source AuditSource, actor string) context.Context {
	return context.WithValue(ctx, auditActorKey{}, CommandAuditEntry{Source: source, Actor: actor})
}

// AuditActorFrom returns the source and actor stored in ctx, defaulting to the system source.
func AuditActorFrom(ctx context.Context) (AuditSource, string) {
	if v, ok := ctx.Value(auditActorKey{}).(CommandAuditEntry); ok {
		return v.Source, v.Actor
	}
	return AuditSourceSystem, ""
}
