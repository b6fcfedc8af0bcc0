package audit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/metahuman-os/operator/pkg/core"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing handle and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Record stores a single audit event. Failures are logged rather than
// propagated: auditing must never break a run.
func (s *SQLiteStore) Record(ctx context.Context, event core.AuditEvent) {
	details, err := encodeDetails(event.Details)
	if err != nil {
		slog.Warn("audit.encode_error", slog.String("error", err.Error()))
		return
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (run_id, actor, category, level, details_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Actor,
		string(event.Category),
		string(event.Level),
		string(details),
		normalizeTime(event.Timestamp),
	)
	if err != nil {
		slog.Warn("audit.record_error", slog.String("error", err.Error()))
	}
}

// List returns audit events matching the filter.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]core.AuditEvent, error) {
	query := `
		SELECT run_id, actor, category, level, details_json, recorded_at
		FROM audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Category != "" {
		addFilter("category = ?", string(filter.Category))
	}
	if filter.Level != "" {
		addFilter("level = ?", string(filter.Level))
	}
	query += where + " ORDER BY recorded_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.AuditEvent
	for rows.Next() {
		var (
			event       core.AuditEvent
			category    string
			level       string
			detailsJSON string
			recorded    sql.NullTime
		)
		if err := rows.Scan(&event.RunID, &event.Actor, &category, &level, &detailsJSON, &recorded); err != nil {
			return nil, err
		}
		event.Category = core.EventCategory(category)
		event.Level = core.EventLevel(level)
		if detailsJSON != "" {
			if details, err := decodeDetails([]byte(detailsJSON)); err == nil {
				event.Details = details
			}
		}
		if recorded.Valid {
			event.Timestamp = recorded.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			actor TEXT NOT NULL,
			category TEXT NOT NULL,
			level TEXT NOT NULL,
			details_json TEXT,
			recorded_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_audit_category ON audit_events(category);
	`)
	return err
}
