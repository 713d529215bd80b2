package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_index (
	id            TEXT PRIMARY KEY,
	vector        BLOB NOT NULL,
	scenario_json TEXT NOT NULL,
	track         TEXT NOT NULL DEFAULT '',
	lap           INTEGER NOT NULL,
	driver        TEXT NOT NULL DEFAULT '',
	tire_compound TEXT NOT NULL DEFAULT '',
	tire_age      INTEGER NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenario_index_track ON scenario_index(track);

CREATE TABLE IF NOT EXISTS decision_log (
	id          TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL,
	decision    TEXT NOT NULL,
	confidence  REAL NOT NULL,
	risk_level  TEXT NOT NULL,
	record_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	operator    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
`

// SQLiteStore is the default durable store: similarity index, decision log
// and audit trail in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- Meta ---

// ensureDimension records dim on first use and rejects a different one later.
func (s *SQLiteStore) ensureDimension(ctx context.Context, dim int) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'embedding_dim'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES ('embedding_dim', ?)`, strconv.Itoa(dim))
		if err != nil {
			return fmt.Errorf("record dimension: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read dimension: %w", err)
	}
	n, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt stored dimension %q: %w", stored, err)
	}
	if n != dim {
		return fmt.Errorf("%w: store was built with %d dims, embedder produces %d", port.ErrDimensionMismatch, n, dim)
	}
	return nil
}

// --- Decision Log ---

// SaveDecision persists a decision record.
func (s *SQLiteStore) SaveDecision(ctx context.Context, scenarioID string, rec *domain.DecisionRecord) (*domain.DecisionLog, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	entry := &domain.DecisionLog{
		ID:         uuid.New().String(),
		ScenarioID: scenarioID,
		Strategy:   rec.Strategy,
		Decision:   rec.Decision,
		Confidence: rec.Confidence,
		RiskLevel:  rec.RiskLevel,
		Record:     rec,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_log (id, scenario_id, strategy, decision, confidence, risk_level, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ScenarioID, entry.Strategy, string(entry.Decision), entry.Confidence,
		string(entry.RiskLevel), string(data), entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return entry, nil
}

// ListDecisions returns recent decisions, newest first, optionally for one strategy.
func (s *SQLiteStore) ListDecisions(ctx context.Context, limit int, strategy string) ([]domain.DecisionLog, error) {
	query := `SELECT id, scenario_id, strategy, decision, confidence, risk_level, record_json, created_at
	          FROM decision_log`
	args := []any{}
	if strategy != "" {
		query += " WHERE strategy = ?"
		args = append(args, strategy)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionLog
	for rows.Next() {
		var (
			l         domain.DecisionLog
			recJSON   string
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.ScenarioID, &l.Strategy, &l.Decision, &l.Confidence,
			&l.RiskLevel, &recJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var rec domain.DecisionRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, fmt.Errorf("decode decision %s: %w", l.ID, err)
		}
		l.Record = &rec
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *SQLiteStore) WriteAudit(operator, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" || !json.Valid([]byte(details)) {
		details = "{}"
	}
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO audit_logs (id, operator, action, resource, resource_id, details, ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), operator, action, resource, resourceID, details, ip, userAgent,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, operator, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs`
	args := []any{}
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var (
			l         domain.AuditLog
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.Operator, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
