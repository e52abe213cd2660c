// Package embed declares the Embedder plugin contract (C1) and its registry.
package embed

import (
	"context"
	"fmt"
)

// Tier selects which vector width an embed call produces.
type Tier string

const (
	// TierFull produces the module full-resolution embedding (default 1536-d).
	TierFull Tier = "full"
	// TierCompressed produces the CMI's compressed embedding (default 512-d).
	TierCompressed Tier = "compressed"
)

// Embedder turns text into vectors at a given tier (§4.1). A single
// implementation serves both tiers so a deployment's compression function
// stays fixed, per §4.1 "Compression".
type Embedder interface {
	// EmbedTexts returns one vector per input text, in the same order, at the
	// requested tier.
	EmbedTexts(ctx context.Context, texts []string, tier Tier) ([][]float32, error)
	// ModelVersion identifies the embedding model/version in use. Part of the
	// determinism cache key (§4.1).
	ModelVersion() string
	// Dimension returns the vector width for the given tier.
	Dimension(tier Tier) int
}

// Loader creates an Embedder from config.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin represents an embedder plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedder plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered embedder plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named embedder plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
}
