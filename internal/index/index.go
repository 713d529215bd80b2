// Package index is the similarity index over labeled race scenarios.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
	"github.com/arturoeanton/go-pitwall-ollama/internal/embedding"
	"github.com/arturoeanton/go-pitwall-ollama/internal/port"
)

// Index embeds scenarios and stores them in a vector backend.
//
// Writes are serialised by mu; searches run concurrently with each other
// and with writes. Re-ingesting an id overwrites the previous entry.
type Index struct {
	embedder *embedding.ScenarioEmbedder
	backend  port.VectorBackend
	mu       sync.Mutex
}

// New binds embedder and backend. Their dimensions must agree.
func New(embedder *embedding.ScenarioEmbedder, backend port.VectorBackend) (*Index, error) {
	if embedder.Dimension() != backend.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d dims, store holds %d",
			port.ErrDimensionMismatch, embedder.Dimension(), backend.Dimension())
	}
	return &Index{embedder: embedder, backend: backend}, nil
}

// Ingest embeds s and stores it under id.
func (x *Index) Ingest(ctx context.Context, s *domain.Scenario, id string) error {
	if id == "" {
		return fmt.Errorf("ingest: empty id")
	}
	vec, err := x.embedder.Embed(ctx, s)
	if err != nil {
		return err
	}
	stored := *s
	stored.ID = id

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.backend.Upsert(ctx, entryFor(&stored, vec))
}

// IngestCollection bulk-ingests every scenario in c that carries an id and
// returns the number of distinct ids stored. Scenarios without an id are
// skipped with a warning; a repeated id keeps its last occurrence, as a
// second Ingest would. The collection's race metadata is attached to
// scenarios that have none.
func (x *Index) IngestCollection(ctx context.Context, c *domain.ScenarioCollection) (int, error) {
	batch := make([]domain.Scenario, 0, len(c.Scenarios))
	seen := make(map[string]int, len(c.Scenarios))
	for i, s := range c.Scenarios {
		if s.ID == "" {
			slog.Warn("skipping scenario without id", "race", c.Race.Name, "position", i)
			continue
		}
		if s.Race == nil {
			race := c.Race
			s.Race = &race
		}
		if j, dup := seen[s.ID]; dup {
			slog.Warn("duplicate scenario id in collection, keeping the last", "race", c.Race.Name, "id", s.ID)
			batch[j] = s
			continue
		}
		seen[s.ID] = len(batch)
		batch = append(batch, s)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	vecs, err := x.embedder.EmbedBatch(ctx, batch)
	if err != nil {
		return 0, err
	}
	entries := make([]domain.IndexEntry, len(batch))
	for i := range batch {
		entries[i] = entryFor(&batch[i], vecs[i])
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.backend.Upsert(ctx, entries...); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// IngestFile loads a golden collection file and ingests it.
func (x *Index) IngestFile(ctx context.Context, path string) (int, error) {
	c, err := LoadCollection(path)
	if err != nil {
		return 0, err
	}
	n, err := x.IngestCollection(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", path, err)
	}
	return n, nil
}

// Progress is called after each file of a directory ingest.
type Progress func(file string, done, total, ingested int)

// IngestDirectory ingests every *.json collection in dir, in name order.
func (x *Index) IngestDirectory(ctx context.Context, dir string, progress Progress) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	total := 0
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := x.IngestFile(ctx, f)
		if err != nil {
			return total, err
		}
		total += n
		slog.Info("ingested collection", "file", filepath.Base(f), "scenarios", n)
		if progress != nil {
			progress(f, i+1, len(files), total)
		}
	}
	return total, nil
}

// Search returns up to k entries nearest to q, most similar first.
// An empty index yields an empty slice and no error.
func (x *Index) Search(ctx context.Context, q *domain.Scenario, k int, filter *port.SearchFilter) ([]domain.SimilarScenario, error) {
	if k <= 0 {
		return []domain.SimilarScenario{}, nil
	}
	vec, err := x.embedder.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	hits, err := x.backend.Nearest(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("nearest: %w", err)
	}

	out := make([]domain.SimilarScenario, len(hits))
	for i, h := range hits {
		out[i] = domain.SimilarScenario{
			ID:         h.Entry.ID,
			Similarity: Similarity(h.Distance),
			Scenario:   h.Entry.Scenario,
			Metadata:   h.Entry.Metadata,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Similarity maps an L2 distance onto (0,1]; identical vectors score 1.
func Similarity(distance float64) float64 {
	if distance < 0 || math.IsNaN(distance) {
		distance = 0
	}
	return 1 / (1 + distance)
}

// GetByID returns the stored scenario, or port.ErrScenarioNotFound.
func (x *Index) GetByID(ctx context.Context, id string) (*domain.Scenario, error) {
	e, err := x.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &e.Scenario, nil
}

// Clear removes every entry.
func (x *Index) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.backend.Clear(ctx)
}

// Stats summarises the index.
func (x *Index) Stats(ctx context.Context) (*domain.IndexStats, error) {
	n, err := x.backend.Count(ctx)
	if err != nil {
		return nil, err
	}
	tracks, err := x.backend.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(tracks)
	return &domain.IndexStats{
		TotalScenarios: n,
		Tracks:         tracks,
		EmbeddingDim:   x.backend.Dimension(),
	}, nil
}

// LoadCollection reads a golden collection file.
func LoadCollection(path string) (*domain.ScenarioCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}
	var c domain.ScenarioCollection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode collection %s: %w", path, err)
	}
	return &c, nil
}

func entryFor(s *domain.Scenario, vec []float32) domain.IndexEntry {
	return domain.IndexEntry{
		ID:       s.ID,
		Vector:   vec,
		Scenario: *s,
		Metadata: domain.MetadataFor(s),
	}
}
