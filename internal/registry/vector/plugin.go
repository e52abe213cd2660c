// Package vector declares the generic Vector Store Adapter contract (C2) and
// its registry. A single Store implementation serves both module memory
// tables and the CMI table; callers distinguish them only by TableConfig.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetByID when no row matches (id, userID).
// Callers distinguish this from other storage failures to decide whether a
// missing row means "create it" or "retry the read".
var ErrNotFound = errors.New("vector: record not found")

// TableConfig names one logical table a Store operates over (a module's
// memory table, or the CMI's compressed-index table) and the width its
// embedding column holds.
type TableConfig struct {
	Name               string
	EmbeddingDimension int
}

// Record is one row: an embedded, user-scoped piece of content plus
// freeform metadata used for FilterScan predicates.
type Record struct {
	ID        string
	UserID    string
	Content   string
	Embedding []float32
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FilterOp is a predicate operator usable against Record.Metadata fields.
type FilterOp string

const (
	FilterEquals   FilterOp = "eq"
	FilterContains FilterOp = "contains"
)

// Filter is one metadata predicate. FilterScan and KNNSearch AND all
// supplied filters together.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Hit is one KNNSearch result: a Record plus its cosine similarity to the
// query embedding.
type Hit struct {
	Record     Record
	Similarity float64
}

// Store is the generic, user-scoped vector store adapter (C2). Every method
// takes the owning userId explicitly; implementations must never return or
// mutate rows belonging to a different user.
type Store interface {
	Insert(ctx context.Context, table TableConfig, rec Record) error
	GetByID(ctx context.Context, table TableConfig, userID, id string) (Record, error)
	GetMany(ctx context.Context, table TableConfig, userID string, ids []string) ([]Record, error)
	Update(ctx context.Context, table TableConfig, rec Record) error
	Delete(ctx context.Context, table TableConfig, userID, id string) error
	// KNNSearch returns up to k hits ordered by similarity desc, ties
	// broken by updatedAt desc then id asc.
	KNNSearch(ctx context.Context, table TableConfig, userID string, queryEmbedding []float32, k int, filters []Filter) ([]Hit, error)
	// FilterScan returns rows matching filters with no similarity ranking,
	// ordered by updatedAt desc then id asc.
	FilterScan(ctx context.Context, table TableConfig, userID string, filters []Filter, limit int) ([]Record, error)
	// EnsureTable prepares table for first use (schema/migration hook).
	EnsureTable(ctx context.Context, table TableConfig) error
	Name() string
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
