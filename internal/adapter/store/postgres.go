package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	scenario_id TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL,
	decision    TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	risk_level  TEXT NOT NULL,
	record      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	operator    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	details     JSONB NOT NULL DEFAULT '{}',
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore handles all relational database operations when the
// advisor runs against Postgres with pgvector.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, runs migrations and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- Meta ---

func (s *PostgresStore) ensureDimension(ctx context.Context, dim int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('embedding_dim', $1) ON CONFLICT (key) DO NOTHING`,
		strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("record dimension: %w", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'embedding_dim'`).Scan(&stored); err != nil {
		return fmt.Errorf("read dimension: %w", err)
	}
	if stored != strconv.Itoa(dim) {
		return fmt.Errorf("%w: store was built with %s dims, embedder produces %d", port.ErrDimensionMismatch, stored, dim)
	}
	return nil
}

// --- Decision Log ---

// SaveDecision persists a decision record.
func (s *PostgresStore) SaveDecision(ctx context.Context, scenarioID string, rec *domain.DecisionRecord) (*domain.DecisionLog, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	query := `INSERT INTO decision_log (scenario_id, strategy, decision, confidence, risk_level, record)
	          VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	          RETURNING id, created_at`

	entry := &domain.DecisionLog{
		ScenarioID: scenarioID,
		Strategy:   rec.Strategy,
		Decision:   rec.Decision,
		Confidence: rec.Confidence,
		RiskLevel:  rec.RiskLevel,
		Record:     rec,
	}
	err = s.db.QueryRowContext(ctx, query,
		scenarioID, rec.Strategy, string(rec.Decision), rec.Confidence, string(rec.RiskLevel), string(data),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return entry, nil
}

// ListDecisions returns recent decisions, newest first, optionally for one strategy.
func (s *PostgresStore) ListDecisions(ctx context.Context, limit int, strategy string) ([]domain.DecisionLog, error) {
	query := `SELECT id, scenario_id, strategy, decision, confidence, risk_level, record::text, created_at
	          FROM decision_log`
	args := []interface{}{}
	argIdx := 1

	if strategy != "" {
		query += fmt.Sprintf(" WHERE strategy = $%d", argIdx)
		args = append(args, strategy)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
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
			l       domain.DecisionLog
			recJSON string
		)
		if err := rows.Scan(&l.ID, &l.ScenarioID, &l.Strategy, &l.Decision, &l.Confidence,
			&l.RiskLevel, &recJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var rec domain.DecisionRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, fmt.Errorf("decode decision %s: %w", l.ID, err)
		}
		l.Record = &rec
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(operator, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" || !json.Valid([]byte(details)) {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (operator, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		operator, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, operator, action, resource, resource_id, details::text, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.Operator, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
