package crowdsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// eventTimeout bounds best-effort event inserts so a slow database never
// stalls a run
const eventTimeout = time.Second

// ReportStore keeps backflow results and workflow events in a SQL database
// and serves mail reports from them. Postgres and SQLite are supported.
type ReportStore struct {
	db     *sql.DB
	driver string
	schema string
	clock  Clock
	logger *slog.Logger
}

// OpenReportStore opens the database behind dsn (see ParseDSN). Close must
// be called when done.
func OpenReportStore(dsn string) (*ReportStore, error) {
	driver, conn, err := ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report store DSN: %w", err)
	}

	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := NewReportStore(db, driver)
	if driver == DriverPostgres {
		_, store.schema, _ = ParseConnString(dsn, DefaultSchema)
	} else {
		// A single connection keeps in-memory databases alive and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}
	return store, nil
}

// NewReportStore wraps an already opened database
func NewReportStore(db *sql.DB, driver string) *ReportStore {
	return &ReportStore{db: db, driver: driver, clock: SystemClock, logger: slog.Default()}
}

// Close closes the database connection
func (s *ReportStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetLogger sets the logger used for best-effort event failures
func (s *ReportStore) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Migrate creates the report and event tables if they do not exist
func (s *ReportStore) Migrate(ctx context.Context) error {
	if s.driver == DriverPostgres && s.schema != "" {
		if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(s.schema)); err != nil {
			return fmt.Errorf("failed to create schema %q: %w", s.schema, err)
		}
	}

	query := `
		CREATE TABLE IF NOT EXISTS backflow_result (
			id          TEXT PRIMARY KEY,
			record_name TEXT NOT NULL,
			catalog     TEXT NOT NULL,
			success     BOOLEAN NOT NULL,
			message     TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create backflow_result table: %w", err)
	}

	events := `
		CREATE TABLE IF NOT EXISTS workflow_event (
			id         TEXT PRIMARY KEY,
			workflow   TEXT NOT NULL,
			run_id     TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			data       TEXT,
			created_at BIGINT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, events); err != nil {
		return fmt.Errorf("failed to create workflow_event table: %w", err)
	}

	for _, index := range []string{
		`CREATE INDEX IF NOT EXISTS backflow_result_created_at_idx ON backflow_result (created_at)`,
		`CREATE INDEX IF NOT EXISTS workflow_event_workflow_idx ON workflow_event (workflow, created_at)`,
	} {
		if _, err := s.db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// RecordResult stores the result of writing one record to the catalog.
// A zero CreatedAt is set to now.
func (s *ReportStore) RecordResult(ctx context.Context, entry ReportEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}

	query := s.rebind(`
		INSERT INTO backflow_result (id, record_name, catalog, success, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), entry.RecordName, entry.Catalog,
		entry.Success, entry.Message, entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backflow result for %q: %w", entry.RecordName, err)
	}
	return nil
}

// GetReport returns the results recorded within [fromInclusive, toInclusive]
func (s *ReportStore) GetReport(ctx context.Context, fromInclusive, toInclusive time.Time) (*MailReport, error) {
	query := s.rebind(`
		SELECT record_name, catalog, success, message, created_at
		FROM backflow_result
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, record_name ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, fromInclusive.UnixNano(), toInclusive.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query backflow results: %w", err)
	}
	defer rows.Close()

	report := &MailReport{From: fromInclusive, To: toInclusive}
	for rows.Next() {
		var (
			entry     ReportEntry
			createdAt int64
		)
		if err := rows.Scan(&entry.RecordName, &entry.Catalog, &entry.Success, &entry.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan backflow result: %w", err)
		}
		entry.CreatedAt = time.Unix(0, createdAt)
		report.Entries = append(report.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backflow results: %w", err)
	}
	return report, nil
}

// LogEvent inserts a workflow event (best-effort, errors are only logged)
func (s *ReportStore) LogEvent(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = s.clock.Now()
	}

	var data []byte
	if event.Data != nil {
		var err error
		if data, err = json.Marshal(event.Data); err != nil {
			s.logger.Warn("failed to encode workflow event", slog.String("error", err.Error()))
			return
		}
	}

	eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	query := s.rebind(`
		INSERT INTO workflow_event (id, workflow, run_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(eventCtx, query,
		uuid.New().String(), event.Workflow, event.RunID, event.Type, nullString(data), event.At.UnixNano())
	if err != nil {
		s.logger.Warn("failed to record workflow event",
			slog.String("workflow", event.Workflow),
			slog.String("event", event.Type),
			slog.String("error", err.Error()))
	}
}

// RecentEvents returns up to limit events of a workflow, newest first
func (s *ReportStore) RecentEvents(ctx context.Context, workflow string, limit int) ([]Event, error) {
	query := s.rebind(`
		SELECT workflow, run_id, event_type, data, created_at
		FROM workflow_event
		WHERE workflow = ?
		ORDER BY created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			data      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&event.Workflow, &event.RunID, &event.Type, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow event: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode workflow event data: %w", err)
			}
		}
		event.At = time.Unix(0, createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workflow events: %w", err)
	}
	return events, nil
}

// Prune deletes results and events recorded before the given time and
// returns how many backflow results were removed
func (s *ReportStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM backflow_result WHERE created_at < ?`), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune backflow results: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM workflow_event WHERE created_at < ?`), before.UnixNano()); err != nil {
		return rowsAffected, fmt.Errorf("failed to prune workflow events: %w", err)
	}
	return rowsAffected, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// rebind rewrites ? placeholders to $n for postgres
func (s *ReportStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
