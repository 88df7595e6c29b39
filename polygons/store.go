package polygons

import (
	"context"
	"sync"

	apperrors "github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/geo"
)

// Record is an accepted polygon as persisted. Geometry holds EWKT text.
type Record struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Geometry            string `json:"geometry"`
	CrossesAntimeridian bool   `json:"crosses_antimeridian"`
}

// CorpusEntry returns the record as a corpus member.
func (r *Record) CorpusEntry() CorpusEntry {
	return CorpusEntry{ID: r.ID, Name: r.Name, Geometry: geo.FromText(r.Geometry)}
}

// Ring decodes and normalizes the stored geometry.
func (r *Record) Ring() (geo.Ring, error) {
	g, err := geo.DecodeText(r.Geometry)
	if err != nil {
		return nil, err
	}
	return geo.Normalize(g.Ring)
}

// Store persists accepted polygon records.
type Store interface {
	// List returns every record in a stable order.
	List(ctx context.Context) ([]*Record, error)
	// Get returns the record with id or a NOT_FOUND AppError.
	Get(ctx context.Context, id string) (*Record, error)
	// Put inserts or replaces a record by id.
	Put(ctx context.Context, rec *Record) error
	// Delete removes a record or returns a NOT_FOUND AppError.
	Delete(ctx context.Context, id string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Corpus converts records to corpus entries, keeping their order.
func Corpus(records []*Record) []CorpusEntry {
	out := make([]CorpusEntry, len(records))
	for i, rec := range records {
		out[i] = rec.CorpusEntry()
	}
	return out
}

// MemoryStore is an in-process Store. List returns records in insertion
// order; replacing a record keeps its position.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// List returns copies of all records in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		rec := *s.records[id]
		out = append(out, &rec)
	}
	return out, nil
}

// Get returns a copy of the record with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.NotFound("polygon")
	}
	cp := *rec
	return &cp, nil
}

// Put stores a copy of rec.
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return apperrors.BadRequest("polygon record needs an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Delete removes the record with id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return apperrors.NotFound("polygon")
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
