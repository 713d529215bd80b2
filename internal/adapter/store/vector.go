package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// PgVectorIndex keeps index entries in Postgres and lets pgvector order
// them by Euclidean distance (the <-> operator).
type PgVectorIndex struct {
	store     *PostgresStore
	dimension int
}

// NewPgVectorIndex creates the scenario_index table for the given dimension
// and binds the index to it.
func NewPgVectorIndex(ctx context.Context, store *PostgresStore, dimension int) (*PgVectorIndex, error) {
	if err := store.ensureDimension(ctx, dimension); err != nil {
		return nil, err
	}
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS scenario_index (
			id            TEXT PRIMARY KEY,
			vector        vector(%d) NOT NULL,
			scenario      JSONB NOT NULL,
			track         TEXT NOT NULL DEFAULT '',
			lap           INTEGER NOT NULL,
			driver        TEXT NOT NULL DEFAULT '',
			tire_compound TEXT NOT NULL DEFAULT '',
			tire_age      INTEGER NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_scenario_index_track ON scenario_index(track);`, dimension)
	if _, err := store.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("migrate scenario_index: %w", err)
	}
	return &PgVectorIndex{store: store, dimension: dimension}, nil
}

// Dimension implements port.VectorBackend.
func (v *PgVectorIndex) Dimension() int { return v.dimension }

// Upsert implements port.VectorBackend.
func (v *PgVectorIndex) Upsert(ctx context.Context, entries ...domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scenario_index (id, vector, scenario, track, lap, driver, tire_compound, tire_age)
		 VALUES ($1, $2::vector, $3::jsonb, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			vector = EXCLUDED.vector,
			scenario = EXCLUDED.scenario,
			track = EXCLUDED.track,
			lap = EXCLUDED.lap,
			driver = EXCLUDED.driver,
			tire_compound = EXCLUDED.tire_compound,
			tire_age = EXCLUDED.tire_age,
			updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if len(e.Vector) != v.dimension {
			return fmt.Errorf("%w: entry %s has %d dims, index holds %d", port.ErrDimensionMismatch, e.ID, len(e.Vector), v.dimension)
		}
		doc, err := json.Marshal(&e.Scenario)
		if err != nil {
			return fmt.Errorf("marshal scenario %s: %w", e.ID, err)
		}
		m := e.Metadata
		if _, err := stmt.ExecContext(ctx,
			e.ID, vectorToString(e.Vector), string(doc), m.Track, m.Lap, m.Driver, string(m.TireCompound), m.TireAge,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Get implements port.VectorBackend.
func (v *PgVectorIndex) Get(ctx context.Context, id string) (*domain.IndexEntry, error) {
	query := `SELECT id, vector::text, scenario::text, track, lap, driver, tire_compound, tire_age
	          FROM scenario_index WHERE id = $1`

	var (
		e      domain.IndexEntry
		vecStr string
		doc    string
	)
	m := &e.Metadata
	err := v.store.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &vecStr, &doc, &m.Track, &m.Lap, &m.Driver, &m.TireCompound, &m.TireAge,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", port.ErrScenarioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if e.Vector, err = stringToVector(vecStr); err != nil {
		return nil, fmt.Errorf("decode vector %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(doc), &e.Scenario); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", id, err)
	}
	return &e, nil
}

// Nearest implements port.VectorBackend.
func (v *PgVectorIndex) Nearest(ctx context.Context, vector []float32, k int, filter *port.SearchFilter) ([]port.Neighbor, error) {
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: query has %d dims, index holds %d", port.ErrDimensionMismatch, len(vector), v.dimension)
	}

	query := `SELECT id, scenario::text, track, lap, driver, tire_compound, tire_age,
	                 vector <-> $1::vector AS distance
	          FROM scenario_index`
	args := []interface{}{vectorToString(vector)}
	argIdx := 2

	var where []string
	if filter != nil {
		if filter.Track != "" {
			where = append(where, fmt.Sprintf("track = $%d", argIdx))
			args = append(args, filter.Track)
			argIdx++
		}
		if filter.Driver != "" {
			where = append(where, fmt.Sprintf("driver = $%d", argIdx))
			args = append(args, filter.Driver)
			argIdx++
		}
		if filter.TireCompound != "" {
			where = append(where, fmt.Sprintf("tire_compound = $%d", argIdx))
			args = append(args, string(filter.TireCompound))
			argIdx++
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY vector <-> $1::vector, id LIMIT $%d", argIdx)
	args = append(args, k)

	rows, err := v.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var results []port.Neighbor
	for rows.Next() {
		var (
			n   port.Neighbor
			doc string
		)
		m := &n.Entry.Metadata
		if err := rows.Scan(&n.Entry.ID, &doc, &m.Track, &m.Lap, &m.Driver, &m.TireCompound, &m.TireAge, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		if err := json.Unmarshal([]byte(doc), &n.Entry.Scenario); err != nil {
			return nil, fmt.Errorf("decode scenario %s: %w", n.Entry.ID, err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// Clear implements port.VectorBackend.
func (v *PgVectorIndex) Clear(ctx context.Context) error {
	_, err := v.store.db.ExecContext(ctx, `DELETE FROM scenario_index`)
	return err
}

// Count implements port.VectorBackend.
func (v *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := v.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenario_index`).Scan(&n)
	return n, err
}

// Tracks implements port.VectorBackend.
func (v *PgVectorIndex) Tracks(ctx context.Context) ([]string, error) {
	rows, err := v.store.db.QueryContext(ctx,
		`SELECT DISTINCT track FROM scenario_index WHERE track <> '' ORDER BY track`)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	tracks := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector parses pgvector text output.
func stringToVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
