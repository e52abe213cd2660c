// Package memvector implements the Vector Store Adapter (C2) in process
// memory, with brute-force cosine similarity scan. It backs local/dev
// deployments (VECTOR_TYPE=memory, the default) and the test harness.
package memvector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "memory",
		Loader: func(_ context.Context) (registryvector.Store, error) {
			return New(), nil
		},
	})
}

// Store is a brute-force, in-memory implementation of registryvector.Store.
// Safe for concurrent use; not persisted across process restarts.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]registryvector.Record // table name -> record id -> record
}

// New returns an empty Store. A fresh Store is also what config.ModeTesting
// deployments get by default, since VectorType defaults to "memory".
func New() *Store {
	return &Store{tables: map[string]map[string]registryvector.Record{}}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) EnsureTable(_ context.Context, table registryvector.TableConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table.Name]; !ok {
		s.tables[table.Name] = map[string]registryvector.Record{}
	}
	return nil
}

func (s *Store) table(name string) map[string]registryvector.Record {
	t, ok := s.tables[name]
	if !ok {
		t = map[string]registryvector.Record{}
		s.tables[name] = t
	}
	return t
}

func (s *Store) Insert(_ context.Context, table registryvector.TableConfig, rec registryvector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table.Name)
	if _, exists := t[rec.ID]; exists {
		return fmt.Errorf("memvector: record %q already exists in %s", rec.ID, table.Name)
	}
	t[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *Store) Update(_ context.Context, table registryvector.TableConfig, rec registryvector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table.Name)
	existing, ok := t[rec.ID]
	if !ok || existing.UserID != rec.UserID {
		return fmt.Errorf("memvector: record %q not found in %s", rec.ID, table.Name)
	}
	t[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *Store) Delete(_ context.Context, table registryvector.TableConfig, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table.Name)
	existing, ok := t[id]
	if !ok || existing.UserID != userID {
		return nil
	}
	delete(t, id)
	return nil
}

func (s *Store) GetByID(_ context.Context, table registryvector.TableConfig, userID, id string) (registryvector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table.Name)
	rec, ok := t[id]
	if !ok || rec.UserID != userID {
		return registryvector.Record{}, registryvector.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) GetMany(_ context.Context, table registryvector.TableConfig, userID string, ids []string) ([]registryvector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table.Name)
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []registryvector.Record
	for _, rec := range t {
		if rec.UserID == userID && want[rec.ID] {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *Store) KNNSearch(_ context.Context, table registryvector.TableConfig, userID string, queryEmbedding []float32, k int, filters []registryvector.Filter) ([]registryvector.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table.Name)

	var hits []registryvector.Hit
	for _, rec := range t {
		if rec.UserID != userID || !matchesFilters(rec, filters) {
			continue
		}
		hits = append(hits, registryvector.Hit{
			Record:     cloneRecord(rec),
			Similarity: cosineSimilarity(queryEmbedding, rec.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].Record.UpdatedAt.Equal(hits[j].Record.UpdatedAt) {
			return hits[i].Record.UpdatedAt.After(hits[j].Record.UpdatedAt)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) FilterScan(_ context.Context, table registryvector.TableConfig, userID string, filters []registryvector.Filter, limit int) ([]registryvector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table(table.Name)

	var out []registryvector.Record
	for _, rec := range t {
		if rec.UserID == userID && matchesFilters(rec, filters) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortRecords(recs []registryvector.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func matchesFilters(rec registryvector.Record, filters []registryvector.Filter) bool {
	for _, f := range filters {
		v, ok := rec.Metadata[f.Field]
		if !ok {
			return false
		}
		str := fmt.Sprintf("%v", v)
		target := fmt.Sprintf("%v", f.Value)
		switch f.Op {
		case registryvector.FilterContains:
			if !strings.Contains(strings.ToLower(str), strings.ToLower(target)) {
				return false
			}
		default:
			if str != target {
				return false
			}
		}
	}
	return true
}

// cosineSimilarity returns the cosine similarity of a and b clamped to
// [0, 1] (§4.2 "the score reported upward is clamped to [0, 1]").
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func cloneRecord(rec registryvector.Record) registryvector.Record {
	meta := make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	embedding := make([]float32, len(rec.Embedding))
	copy(embedding, rec.Embedding)
	rec.Metadata = meta
	rec.Embedding = embedding
	return rec
}

var _ registryvector.Store = (*Store)(nil)
