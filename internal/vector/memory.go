package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pgvector/pgvector-go"
)

// MemoryStore is an in-process Store used by tests and by local development
// without a pgvector database. It mirrors the ordering semantics of the
// Postgres implementation exactly: descending similarity, ties broken by
// ascending slide number then position.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Unit
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Unit)}
}

func (s *MemoryStore) Replace(_ context.Context, collectionID string, units []Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]Unit, len(units))
	copy(copied, units)
	for i := range copied {
		copied[i].CollectionID = collectionID
	}

	s.collections[collectionID] = copied

	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, collectionID string, unit Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit.CollectionID = collectionID
	units := s.collections[collectionID]
	for i := range units {
		if units[i].ItemID == unit.ItemID {
			units[i] = unit
			return nil
		}
	}

	s.collections[collectionID] = append(units, unit)

	return nil
}

func (s *MemoryStore) Query(_ context.Context, collectionID string, embedding pgvector.Vector, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := s.collections[collectionID]
	if len(units) == 0 {
		return nil, ErrCollectionNotFound
	}

	results := make([]Result, 0, len(units))
	for _, unit := range units {
		results = append(results, Result{
			ItemID:      unit.ItemID,
			Kind:        unit.Kind,
			SlideNumber: unit.SlideNumber,
			Position:    unit.Position,
			Content:     unit.Content,
			Score:       cosineSimilarity(embedding.Slice(), unit.Embedding.Slice()),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SlideNumber != results[j].SlideNumber {
			return results[i].SlideNumber < results[j].SlideNumber
		}
		return results[i].Position < results[j].Position
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

func (s *MemoryStore) Delete(_ context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collectionID]; !ok {
		return ErrCollectionNotFound
	}

	delete(s.collections, collectionID)

	return nil
}

// Len reports the number of units stored for a collection.
func (s *MemoryStore) Len(collectionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.collections[collectionID])
}

// Units returns a copy of the stored units for a collection.
func (s *MemoryStore) Units(collectionID string) []Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]Unit, len(s.collections[collectionID]))
	copy(units, s.collections[collectionID])

	return units
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
