// Package userstore persists users and looks them up by id or opaque URL
// token; resolving credentials to a user is done by security.Resolver. It is deliberately
// separate from the generic vector Store (C2): users carry no embedding and
// are looked up by token/id, not by similarity.
package userstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/federated-memory/federated-memory/internal/model"
)

// Store persists and resolves users.
type Store interface {
	GetByID(ctx context.Context, userID string) (model.User, error)
	GetByOpaqueToken(ctx context.Context, token string) (model.User, error)
	Upsert(ctx context.Context, user model.User) error
	// ListIDs returns the registered user ids (the Postgres store lists only
	// active users), for the CMI integrity sweep
	// (§9 "Write-through consistency without 2PC"), which reconciles one
	// user's modules against the CMI at a time since C2 operations are
	// always user-scoped.
	ListIDs(ctx context.Context) ([]string, error)
}

// Memory is an in-process Store, used for local/dev deployments and tests.
type Memory struct {
	mu        sync.RWMutex
	byID      map[string]model.User
	byToken   map[string]string // opaque token -> userID
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]model.User{}, byToken: map[string]string{}}
}

func (m *Memory) GetByID(_ context.Context, userID string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[userID]
	if !ok {
		return model.User{}, fmt.Errorf("userstore: user %q not found", userID)
	}
	return u, nil
}

func (m *Memory) GetByOpaqueToken(_ context.Context, token string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.byToken[token]
	if !ok {
		return model.User{}, fmt.Errorf("userstore: token not recognized")
	}
	return m.byID[userID], nil
}

func (m *Memory) Upsert(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.OpaqueToken != "" {
		m.byToken[user.OpaqueToken] = user.UserID
	}
	m.byID[user.UserID] = user
	return nil
}

func (m *Memory) ListIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids, nil
}

var _ Store = (*Memory)(nil)
