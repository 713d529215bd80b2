package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// SQLiteIndex keeps index entries in SQLiteStore and answers nearest-neighbour
// queries by a brute-force L2 scan in Go. Golden corpora are small (hundreds
// of scenarios), so the scan stays well under a millisecond per query.
type SQLiteIndex struct {
	store *SQLiteStore
	dim   int
}

// NewSQLiteIndex binds the index to store with a fixed vector dimension.
func NewSQLiteIndex(ctx context.Context, store *SQLiteStore, dim int) (*SQLiteIndex, error) {
	if err := store.ensureDimension(ctx, dim); err != nil {
		return nil, err
	}
	return &SQLiteIndex{store: store, dim: dim}, nil
}

// Dimension implements port.VectorBackend.
func (x *SQLiteIndex) Dimension() int { return x.dim }

// Upsert implements port.VectorBackend. The batch is written in one
// transaction; an existing id is replaced.
func (x *SQLiteIndex) Upsert(ctx context.Context, entries ...domain.IndexEntry) error {
	tx, err := x.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scenario_index (id, vector, scenario_json, track, lap, driver, tire_compound, tire_age, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			vector = excluded.vector,
			scenario_json = excluded.scenario_json,
			track = excluded.track,
			lap = excluded.lap,
			driver = excluded.driver,
			tire_compound = excluded.tire_compound,
			tire_age = excluded.tire_age,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		if len(e.Vector) != x.dim {
			return fmt.Errorf("%w: entry %s has %d dims, index holds %d", port.ErrDimensionMismatch, e.ID, len(e.Vector), x.dim)
		}
		doc, err := json.Marshal(&e.Scenario)
		if err != nil {
			return fmt.Errorf("marshal scenario %s: %w", e.ID, err)
		}
		m := e.Metadata
		if _, err := stmt.ExecContext(ctx, e.ID, encodeVector(e.Vector), string(doc),
			m.Track, m.Lap, m.Driver, string(m.TireCompound), m.TireAge, now); err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get implements port.VectorBackend.
func (x *SQLiteIndex) Get(ctx context.Context, id string) (*domain.IndexEntry, error) {
	row := x.store.db.QueryRowContext(ctx,
		`SELECT id, vector, scenario_json, track, lap, driver, tire_compound, tire_age
		 FROM scenario_index WHERE id = ?`, id)
	var (
		e    domain.IndexEntry
		blob []byte
		doc  string
	)
	err := row.Scan(&e.ID, &blob, &doc, &e.Metadata.Track, &e.Metadata.Lap, &e.Metadata.Driver,
		&e.Metadata.TireCompound, &e.Metadata.TireAge)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", port.ErrScenarioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	e.Vector = decodeVector(blob)
	if err := json.Unmarshal([]byte(doc), &e.Scenario); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", id, err)
	}
	return &e, nil
}

// Nearest implements port.VectorBackend.
func (x *SQLiteIndex) Nearest(ctx context.Context, vector []float32, k int, filter *port.SearchFilter) ([]port.Neighbor, error) {
	if len(vector) != x.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index holds %d", port.ErrDimensionMismatch, len(vector), x.dim)
	}

	query := `SELECT id, vector, scenario_json, track, lap, driver, tire_compound, tire_age FROM scenario_index`
	var (
		where []string
		args  []any
	)
	if filter != nil {
		if filter.Track != "" {
			where = append(where, "track = ?")
			args = append(args, filter.Track)
		}
		if filter.Driver != "" {
			where = append(where, "driver = ?")
			args = append(args, filter.Driver)
		}
		if filter.TireCompound != "" {
			where = append(where, "tire_compound = ?")
			args = append(args, string(filter.TireCompound))
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := x.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		entry domain.IndexEntry
		doc   string
		dist  float64
	}
	var cands []candidate
	for rows.Next() {
		var (
			c    candidate
			blob []byte
		)
		m := &c.entry.Metadata
		if err := rows.Scan(&c.entry.ID, &blob, &c.doc, &m.Track, &m.Lap, &m.Driver, &m.TireCompound, &m.TireAge); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		c.entry.Vector = decodeVector(blob)
		c.dist = l2(vector, c.entry.Vector)
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist == cands[j].dist {
			return cands[i].entry.ID < cands[j].entry.ID
		}
		return cands[i].dist < cands[j].dist
	})
	if len(cands) > k {
		cands = cands[:k]
	}

	out := make([]port.Neighbor, len(cands))
	for i, c := range cands {
		if err := json.Unmarshal([]byte(c.doc), &c.entry.Scenario); err != nil {
			return nil, fmt.Errorf("decode scenario %s: %w", c.entry.ID, err)
		}
		out[i] = port.Neighbor{Entry: c.entry, Distance: c.dist}
	}
	return out, nil
}

// Clear implements port.VectorBackend.
func (x *SQLiteIndex) Clear(ctx context.Context) error {
	_, err := x.store.db.ExecContext(ctx, `DELETE FROM scenario_index`)
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

// Count implements port.VectorBackend.
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenario_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	return n, nil
}

// Tracks implements port.VectorBackend.
func (x *SQLiteIndex) Tracks(ctx context.Context) ([]string, error) {
	rows, err := x.store.db.QueryContext(ctx,
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

// --- Vector encoding ---

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
