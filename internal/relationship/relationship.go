// Package relationship stores links between memories, possibly across
// modules (§3 "Relationship"). It is deliberately separate from the generic
// vector Store (C2): relationships carry no embedding and are never
// similarity-searched, only looked up by memory id.
package relationship

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/model"
)

// Store persists relationships and answers the two query shapes tools need:
// lookup by either endpoint, and cascade-delete when a memory is removed.
type Store interface {
	Link(ctx context.Context, rel model.Relationship) (model.Relationship, error)
	Unlink(ctx context.Context, userID, id string) error
	RelatedTo(ctx context.Context, userID, moduleID, memoryID string) ([]model.Relationship, error)
	DeleteForMemory(ctx context.Context, userID, moduleID, memoryID string) error
}

// Memory is an in-process Store, used for local/dev deployments and tests.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]model.Relationship
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]model.Relationship{}}
}

func (m *Memory) Link(_ context.Context, rel model.Relationship) (model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	m.byID[key(rel.UserID, rel.ID)] = rel
	return rel, nil
}

func (m *Memory) Unlink(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, id)
	if _, ok := m.byID[k]; !ok {
		return &ferrors.NotFoundError{Resource: "relationship", ID: id}
	}
	delete(m.byID, k)
	return nil
}

func (m *Memory) RelatedTo(_ context.Context, userID, moduleID, memoryID string) ([]model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Relationship
	for _, rel := range m.byID {
		if rel.UserID != userID {
			continue
		}
		if endpointMatches(rel.SourceModule, rel.SourceMemoryID, moduleID, memoryID) ||
			endpointMatches(rel.TargetModule, rel.TargetMemoryID, moduleID, memoryID) {
			out = append(out, rel)
		}
	}
	return out, nil
}

// DeleteForMemory removes every relationship touching (moduleID, memoryID),
// used when a memory is deleted so dangling links never surface (§3
// "Relationship is purely additive"; cascade-delete is the one exception).
func (m *Memory) DeleteForMemory(_ context.Context, userID, moduleID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rel := range m.byID {
		if rel.UserID != userID {
			continue
		}
		if endpointMatches(rel.SourceModule, rel.SourceMemoryID, moduleID, memoryID) ||
			endpointMatches(rel.TargetModule, rel.TargetMemoryID, moduleID, memoryID) {
			delete(m.byID, k)
		}
	}
	return nil
}

func endpointMatches(module, memoryID, wantModule, wantMemoryID string) bool {
	return module == wantModule && memoryID == wantMemoryID
}

func key(userID, id string) string {
	return userID + ":" + id
}

var _ Store = (*Memory)(nil)
