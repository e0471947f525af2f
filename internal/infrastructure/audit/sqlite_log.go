package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// SQLiteLog persists the audit log in a SQLite database. Inserts and the
// FIFO trim run in one transaction, serialised by a mutex.
type SQLiteLog struct {
	db       *sql.DB
	path     string
	capacity int
	mu       sync.Mutex
}

// NewSQLiteLog creates (or opens) the database at path.
func NewSQLiteLog(path string, capacity int) (*SQLiteLog, error) {
	if capacity <= 0 {
		capacity = domain.DefaultAuditCapacity
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes ordered
	db.SetMaxOpenConns(1)

	log := &SQLiteLog{db: db, path: path, capacity: capacity}
	if err := log.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

func (l *SQLiteLog) init() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		request_id TEXT,
		action_id TEXT,
		tool TEXT,
		summary TEXT,
		idempotency_key TEXT,
		success INTEGER,
		output TEXT,
		error TEXT,
		duration_ms INTEGER,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS audit_entries_idempotency ON audit_entries(idempotency_key);`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Append implements ports.AuditLog.
func (l *SQLiteLog) Append(ctx context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries
		(id, request_id, action_id, tool, summary, idempotency_key, success, output, error, duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.RequestID,
		entry.ActionID,
		string(entry.Tool),
		entry.Summary,
		entry.IdempotencyKey,
		boolToInt(entry.Success),
		entry.Output,
		entry.Error,
		entry.DurationMS,
		entry.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM audit_entries WHERE seq NOT IN
		(SELECT seq FROM audit_entries ORDER BY seq DESC LIMIT ?)`, l.capacity)
	if err != nil {
		return fmt.Errorf("trim audit log: %w", err)
	}
	return tx.Commit()
}

// Lookup implements ports.AuditLog.
func (l *SQLiteLog) Lookup(ctx context.Context, idempotencyKey string) (domain.AuditEntry, bool, error) {
	if idempotencyKey == "" {
		return domain.AuditEntry{}, false, nil
	}
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE idempotency_key = ? ORDER BY seq DESC LIMIT 1`, idempotencyKey)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuditEntry{}, false, nil
	}
	if err != nil {
		return domain.AuditEntry{}, false, err
	}
	return entry, true, nil
}

// Recent implements ports.AuditLog.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = l.capacity
	}
	rows, err := l.db.QueryContext(ctx, selectColumns+` ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Path returns the database location.
func (l *SQLiteLog) Path() string {
	return l.path
}

// Close releases the database handle.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

const selectColumns = `SELECT id, request_id, action_id, tool, summary, idempotency_key, success, output, error, duration_ms, completed_at FROM audit_entries`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var tool, completedAt string
	var success int
	err := row.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.ActionID,
		&tool,
		&entry.Summary,
		&entry.IdempotencyKey,
		&success,
		&entry.Output,
		&entry.Error,
		&entry.DurationMS,
		&completedAt,
	)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.Tool = domain.ToolName(tool)
	entry.Success = success == 1
	if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
		entry.CompletedAt = t
	}
	return entry, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ ports.AuditLog = (*SQLiteLog)(nil)
