// Package history persists processed advisories to SQLite for the stats and
// recent-query views. The pipeline records fire-and-forget: a store error is
// logged, never propagated into a query's outcome.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"agriguard/internal/domain"

	_ "modernc.org/sqlite"
)

// Store persists advisories using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Record is one persisted advisory row.
type Record struct {
	ID         string
	SessionID  string
	Channel    string
	Text       string
	Language   string
	Category   string
	Confidence float64
	Urgency    int
	Status     string
	State      string
	LatencyMs  int64
	CreatedAt  time.Time
}

// Stats summarizes the stored advisories.
type Stats struct {
	TotalQueries int64
	ByCategory   map[string]int64
	ByStatus     map[string]int64
	Emergencies  int64 // urgency >= 4
	AlertsSent   int64
	AvgLatencyMs float64
	MinLatencyMs int64
	MaxLatencyMs int64
	SubSecond    int64 // queries answered under one second
	OldestQuery  time.Time
	NewestQuery  time.Time
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queries (
		id          TEXT PRIMARY KEY,
		session_id  TEXT,
		channel     TEXT NOT NULL,
		text        TEXT NOT NULL,
		language    TEXT,
		category    TEXT NOT NULL,
		confidence  REAL NOT NULL,
		urgency     INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		state       TEXT NOT NULL,
		latency_ms  INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_queries_session ON queries(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_queries_time ON queries(created_at);
	CREATE INDEX IF NOT EXISTS idx_queries_category ON queries(category);

	CREATE TABLE IF NOT EXISTS alerts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id    TEXT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
		channel     TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		urgency     INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordAdvisory stores one completed advisory.
func (s *Store) RecordAdvisory(ctx context.Context, adv domain.Advisory) error {
	created := adv.Query.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queries
		 (id, session_id, channel, text, language, category, confidence, urgency, status, state, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adv.Query.ID, adv.Query.SessionID, adv.Query.Channel, adv.Query.Text, adv.Query.Language,
		string(adv.Category.Category), adv.Category.Confidence, adv.Query.Urgency,
		string(adv.Status), string(adv.State), adv.Latency.Milliseconds(), created,
	)
	return err
}

// RecordAlert stores one alert-channel delivery.
func (s *Store) RecordAlert(ctx context.Context, queryID, channel, recipient string, urgency int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (query_id, channel, recipient, urgency) VALUES (?, ?, ?, ?)`,
		queryID, channel, recipient, urgency,
	)
	return err
}

// RecentQueries returns the newest advisories, most recent first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, channel, text, language, category, confidence, urgency, status, state, latency_ms, created_at
		 FROM queries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Channel, &r.Text, &r.Language,
			&r.Category, &r.Confidence, &r.Urgency, &r.Status, &r.State, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SessionQueries returns all advisories for one session, oldest first.
func (s *Store) SessionQueries(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, channel, text, language, category, confidence, urgency, status, state, latency_ms, created_at
		 FROM queries WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Channel, &r.Text, &r.Language,
			&r.Category, &r.Confidence, &r.Urgency, &r.Status, &r.State, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats aggregates the stored advisories.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByCategory: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN urgency >= 4 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(latency_ms), 0),
		        COALESCE(MIN(latency_ms), 0),
		        COALESCE(MAX(latency_ms), 0),
		        COALESCE(SUM(CASE WHEN latency_ms < 1000 THEN 1 ELSE 0 END), 0)
		 FROM queries`,
	).Scan(&stats.TotalQueries, &stats.Emergencies, &stats.AvgLatencyMs,
		&stats.MinLatencyMs, &stats.MaxLatencyMs, &stats.SubSecond)
	if err != nil {
		return nil, err
	}

	// Boundary rows rather than MIN/MAX aggregates: the aggregate expression
	// loses the column's declared DATETIME type and scans back as a string.
	if stats.TotalQueries > 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT created_at FROM queries ORDER BY created_at ASC LIMIT 1`,
		).Scan(&stats.OldestQuery)
		if err != nil {
			return nil, err
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT created_at FROM queries ORDER BY created_at DESC LIMIT 1`,
		).Scan(&stats.NewestQuery)
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM queries GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statusRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var n int64
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	if err := statusRows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&stats.AlertsSent); err != nil {
		return nil, err
	}

	return stats, nil
}

// Purge removes advisories older than the retention window and returns the
// number of rows deleted.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
