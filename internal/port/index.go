package port

import (
	"context"

	"github.com/arturoeanton/go-pitwall-ollama/internal/domain"
)

// SearchFilter restricts nearest-neighbour search by exact metadata match.
// Empty fields do not filter.
type SearchFilter struct {
	Track        string          `json:"track,omitempty"`
	Driver       string          `json:"driver,omitempty"`
	TireCompound domain.Compound `json:"tire_compound,omitempty"`
}

// Matches reports whether m passes the filter.
func (f *SearchFilter) Matches(m domain.EntryMetadata) bool {
	if f == nil {
		return true
	}
	if f.Track != "" && f.Track != m.Track {
		return false
	}
	if f.Driver != "" && f.Driver != m.Driver {
		return false
	}
	if f.TireCompound != "" && f.TireCompound != m.TireCompound {
		return false
	}
	return true
}

// Neighbor is a backend hit with its L2 distance to the query.
type Neighbor struct {
	Entry    domain.IndexEntry
	Distance float64
}

// VectorBackend is a durable keyed store of index entries with
// nearest-neighbour lookup under Euclidean distance.
//
// Upsert replaces any existing entry with the same id. Each entry is
// written atomically; a batch may be partially applied on error.
type VectorBackend interface {
	Dimension() int
	Upsert(ctx context.Context, entries ...domain.IndexEntry) error
	Get(ctx context.Context, id string) (*domain.IndexEntry, error)
	Nearest(ctx context.Context, vector []float32, k int, filter *SearchFilter) ([]Neighbor, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Tracks(ctx context.Context) ([]string, error)
}
