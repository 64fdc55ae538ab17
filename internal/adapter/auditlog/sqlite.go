// Package auditlog persists the trail of commands written to the server.
package auditlog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"fxpanel/internal/domain"
)

// defaultRecent is used when Recent is called with a non-positive limit.
const defaultRecent = 50

// SQLiteStore implements domain.CommandAuditStore using SQLite.
type SQLiteStore struct {
	db *sql.DB

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS command_audit (
			id        TEXT PRIMARY KEY,
			ts        TEXT NOT NULL,
			source    TEXT NOT NULL,
			actor     TEXT NOT NULL DEFAULT '',
			command   TEXT NOT NULL,
			success   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_command_audit_ts ON command_audit (ts);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) newID(t time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// RecordCommand implements domain.CommandAuditor. Missing IDs and timestamps
// are filled in.
func (s *SQLiteStore) RecordCommand(ctx context.Context, e domain.CommandAuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ID == "" {
		e.ID = s.newID(e.Timestamp)
	}
	if e.Source == "" {
		e.Source = domain.AuditSourceSystem
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO command_audit (id, ts, source, actor, command, success) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(e.Source), e.Actor, e.Command, e.Success,
	)
	if err != nil {
		return domain.NewSubSystemError("audit", "SQLiteStore.RecordCommand", domain.ErrAuditWrite, err.Error())
	}

	trace.SpanFromContext(ctx).AddEvent("command.audit", trace.WithAttributes(
		attribute.String("audit.id", e.ID),
		attribute.String("audit.source", string(e.Source)),
		attribute.Bool("audit.success", e.Success),
	))
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.CommandAuditEntry, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, source, actor, command, success FROM command_audit ORDER BY ts DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CommandAuditEntry
	for rows.Next() {
		var (
			e      domain.CommandAuditEntry
			ts     string
			source string
		)
		if err := rows.Scan(&e.ID, &ts, &source, &e.Actor, &e.Command, &e.Success); err != nil {
			return nil, err
		}
		e.Source = domain.AuditSource(source)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns a single entry.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.CommandAuditEntry, error) {
	var (
		e      domain.CommandAuditEntry
		ts     string
		source string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, ts, source, actor, command, success FROM command_audit WHERE id = ?", id,
	).Scan(&e.ID, &ts, &source, &e.Actor, &e.Command, &e.Success)
	if err == sql.ErrNoRows {
		return nil, domain.NewSubSystemError("audit", "SQLiteStore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	e.Source = domain.AuditSource(source)
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return &e, nil
}

// Purge deletes entries older than olderThan and reports how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM command_audit WHERE ts < ?", olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ domain.CommandAuditStore = (*SQLiteStore)(nil)
