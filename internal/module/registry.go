package module

import (
	"context"
	"fmt"
	"sort"

	"github.com/federated-memory/federated-memory/internal/model"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
)

// Registry is the process-wide set of constructed modules (C4), keyed by
// descriptor ID, built once at startup from the module catalog.
type Registry struct {
	modules map[string]*Module
	order   []string
	defaultID string
}

// Build constructs a Module for each descriptor, sharing one vector store
// and embedder. Descriptors are evaluated for classification in the order
// given; the module named by defaultID becomes the fallback target when no
// rule matches, and Build fails if no descriptor has that id.
func Build(ctx context.Context, descriptors []model.ModuleDescriptor, defaultID string, store registryvector.Store, embedder registryembed.Embedder) (*Registry, error) {
	reg := &Registry{modules: map[string]*Module{}, defaultID: defaultID}
	for _, desc := range descriptors {
		m, err := New(ctx, desc, store, embedder)
		if err != nil {
			return nil, err
		}
		reg.modules[desc.ID] = m
		reg.order = append(reg.order, desc.ID)
	}
	if _, ok := reg.modules[defaultID]; !ok {
		return nil, fmt.Errorf("module registry: default module %q not registered", defaultID)
	}
	return reg, nil
}

// Get returns the module by ID.
func (r *Registry) Get(id string) (*Module, bool) {
	m, ok := r.modules[id]
	return m, ok
}

// Default returns the fallback module used when no classification rule matches.
func (r *Registry) Default() *Module {
	return r.modules[r.defaultID]
}

// All returns every module in registration order.
func (r *Registry) All() []*Module {
	out := make([]*Module, len(r.order))
	for i, id := range r.order {
		out[i] = r.modules[id]
	}
	return out
}

// Names returns registered module IDs, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for id := range r.modules {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Classify routes content/metadata to a module ID, evaluating descriptors in
// registration order and falling back to Default() (§4.5 "Routing writes").
func (r *Registry) Classify(content string, metadata map[string]interface{}) string {
	for _, id := range r.order {
		if Classify(r.modules[id].Descriptor, content, metadata) {
			return id
		}
	}
	return r.defaultID
}
