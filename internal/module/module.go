// Package module implements the generic per-module memory store (C3): the
// same CRUD/search/stats/analyze surface backs every topical module, the
// descriptor only varying table name, embedding width, and classification
// hints.
package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/model"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
)

// Module is one topical memory store, backed by the shared vector Store and
// Embedder (§3 "Module").
type Module struct {
	Descriptor model.ModuleDescriptor
	store      registryvector.Store
	embedder   registryembed.Embedder
}

// New constructs a Module and ensures its backing table exists.
func New(ctx context.Context, desc model.ModuleDescriptor, store registryvector.Store, embedder registryembed.Embedder) (*Module, error) {
	m := &Module{Descriptor: desc, store: store, embedder: embedder}
	if err := store.EnsureTable(ctx, m.table()); err != nil {
		return nil, fmt.Errorf("module %s: ensure table: %w", desc.ID, err)
	}
	return m, nil
}

func (m *Module) table() registryvector.TableConfig {
	return registryvector.TableConfig{Name: m.Descriptor.TableName, EmbeddingDimension: m.Descriptor.EmbeddingDimension}
}

// Store embeds content and inserts a new memory owned by userID.
func (m *Module) Store(ctx context.Context, userID, content string, metadata map[string]interface{}) (model.Memory, error) {
	vectors, err := m.embedder.EmbedTexts(ctx, []string{content}, registryembed.TierFull)
	if err != nil {
		return model.Memory{}, &ferrors.EmbeddingUnavailableError{Cause: err}
	}
	now := time.Now()
	rec := registryvector.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Embedding: vectors[0],
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, m.table(), rec); err != nil {
		return model.Memory{}, &ferrors.StorageFailureError{Op: "module.Store", Cause: err}
	}
	return toMemory(m.Descriptor.ID, rec), nil
}

// Get returns one memory by id, scoped to userID.
func (m *Module) Get(ctx context.Context, userID, id string) (model.Memory, error) {
	rec, err := m.store.GetByID(ctx, m.table(), userID, id)
	if err != nil {
		if errors.Is(err, registryvector.ErrNotFound) {
			return model.Memory{}, &ferrors.NotFoundError{Resource: "memory", ID: id}
		}
		return model.Memory{}, &ferrors.StorageFailureError{Op: "module.Get", Cause: err}
	}
	return toMemory(m.Descriptor.ID, rec), nil
}

// GetMany returns memories by id, scoped to userID, in arbitrary order.
func (m *Module) GetMany(ctx context.Context, userID string, ids []string) ([]model.Memory, error) {
	recs, err := m.store.GetMany(ctx, m.table(), userID, ids)
	if err != nil {
		return nil, &ferrors.StorageFailureError{Op: "module.GetMany", Cause: err}
	}
	return toMemories(m.Descriptor.ID, recs), nil
}

// Update replaces content and/or metadata. The content is re-embedded only
// when a non-nil content differs from the stored one; otherwise the existing
// embedding is left untouched.
func (m *Module) Update(ctx context.Context, userID, id string, content *string, metadata map[string]interface{}) (model.Memory, error) {
	existing, err := m.store.GetByID(ctx, m.table(), userID, id)
	if err != nil {
		if errors.Is(err, registryvector.ErrNotFound) {
			return model.Memory{}, &ferrors.NotFoundError{Resource: "memory", ID: id}
		}
		return model.Memory{}, &ferrors.StorageFailureError{Op: "module.Update", Cause: err}
	}

	rec := existing
	if metadata != nil {
		rec.Metadata = metadata
	}
	if content != nil && *content != existing.Content {
		vectors, err := m.embedder.EmbedTexts(ctx, []string{*content}, registryembed.TierFull)
		if err != nil {
			return model.Memory{}, &ferrors.EmbeddingUnavailableError{Cause: err}
		}
		rec.Content = *content
		rec.Embedding = vectors[0]
	}
	rec.UpdatedAt = time.Now()

	if err := m.store.Update(ctx, m.table(), rec); err != nil {
		return model.Memory{}, &ferrors.StorageFailureError{Op: "module.Update", Cause: err}
	}
	return toMemory(m.Descriptor.ID, rec), nil
}

// Delete removes a memory owned by userID. Deleting a non-existent memory is
// not an error (§3 "delete is idempotent").
func (m *Module) Delete(ctx context.Context, userID, id string) error {
	if err := m.store.Delete(ctx, m.table(), userID, id); err != nil {
		return &ferrors.StorageFailureError{Op: "module.Delete", Cause: err}
	}
	return nil
}

// Search performs a k-NN search against the module's own full-resolution
// embeddings (used by per-module search tools, distinct from CMI fan-out).
func (m *Module) Search(ctx context.Context, userID, queryText string, limit int) ([]model.MemoryHit, error) {
	vectors, err := m.embedder.EmbedTexts(ctx, []string{queryText}, registryembed.TierFull)
	if err != nil {
		return nil, &ferrors.EmbeddingUnavailableError{Cause: err}
	}
	hits, err := m.store.KNNSearch(ctx, m.table(), userID, vectors[0], limit, nil)
	if err != nil {
		return nil, &ferrors.SearchUnavailableError{Cause: err}
	}
	return toHits(m.Descriptor.ID, hits), nil
}

// Stats summarizes this module's memory count for userID.
func (m *Module) Stats(ctx context.Context, userID string) (model.ModuleStats, error) {
	recs, err := m.store.FilterScan(ctx, m.table(), userID, nil, 0)
	if err != nil {
		return model.ModuleStats{}, &ferrors.StorageFailureError{Op: "module.Stats", Cause: err}
	}
	return model.ModuleStats{ModuleID: m.Descriptor.ID, MemoryCount: int64(len(recs))}, nil
}

// Scan returns every memory owned by userID, optionally filtered; used by
// catalog.Analyze (analyze.go) and the CMI integrity sweep.
func (m *Module) Scan(ctx context.Context, userID string, filters []registryvector.Filter) ([]model.Memory, error) {
	recs, err := m.store.FilterScan(ctx, m.table(), userID, filters, 0)
	if err != nil {
		return nil, &ferrors.StorageFailureError{Op: "module.Scan", Cause: err}
	}
	return toMemories(m.Descriptor.ID, recs), nil
}

func toMemory(moduleID string, rec registryvector.Record) model.Memory {
	return model.Memory{
		ID:        rec.ID,
		UserID:    rec.UserID,
		ModuleID:  moduleID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func toMemories(moduleID string, recs []registryvector.Record) []model.Memory {
	out := make([]model.Memory, len(recs))
	for i, r := range recs {
		out[i] = toMemory(moduleID, r)
	}
	return out
}

func toHits(moduleID string, hits []registryvector.Hit) []model.MemoryHit {
	out := make([]model.MemoryHit, len(hits))
	for i, h := range hits {
		out[i] = model.MemoryHit{
			ID:         h.Record.ID,
			ModuleID:   moduleID,
			Content:    h.Record.Content,
			Metadata:   h.Record.Metadata,
			Similarity: h.Similarity,
			UpdatedAt:  h.Record.UpdatedAt,
		}
	}
	return out
}
