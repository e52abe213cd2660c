// Package model holds the domain types shared across the federated memory
// core: users, per-module memories, the central index, and relationships.
package model

import "time"

// User is a principal who owns memories. Created once; never re-keyed.
type User struct {
	UserID       string `json:"userId"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	PasswordHash string `json:"-"`
	OpaqueToken  string `json:"-"`
	IsActive     bool   `json:"isActive"`
}

// Memory is one content record owned by a single module (§3).
type Memory struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	ModuleID     string                 `json:"moduleId"`
	Content      string                 `json:"content"`
	Embedding    []float32              `json:"-"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	LastAccessed time.Time              `json:"lastAccessed"`
	AccessCount  int64                  `json:"accessCount"`
}

// CMIEntry is the Central Memory Index's compressed summary of one memory (§3).
type CMIEntry struct {
	UserID             string    `json:"userId"`
	ModuleID           string    `json:"moduleId"`
	RemoteMemoryID     string    `json:"remoteMemoryId"`
	Title              string    `json:"title"`
	Summary            string    `json:"summary"`
	Keywords           []string  `json:"keywords"`
	Categories         []string  `json:"categories"`
	ImportanceScore    float64   `json:"importanceScore"`
	CompressedEmbedding []float32 `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Relationship links two memories, possibly across modules (§3). Purely additive.
type Relationship struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"userId"`
	SourceModule     string                 `json:"sourceModule"`
	SourceMemoryID   string                 `json:"sourceMemoryId"`
	TargetModule     string                 `json:"targetModule"`
	TargetMemoryID   string                 `json:"targetMemoryId"`
	RelationshipType string                 `json:"relationshipType"`
	Strength         float64                `json:"strength"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// ClassifyRule is one entry in a module's ordered classification hint table
// (§4.5 "Routing writes"). Exactly one of the fields is set per rule.
type ClassifyRule struct {
	// MetadataField/MetadataValue match an exact metadata key/value pair
	// (e.g. metadata.type == "project"). Checked before Tag/ContentRegex rules.
	MetadataField string
	MetadataValue string

	// Tag matches a case-insensitive token present in metadata.tags.
	Tag string

	// ContentRegex matches against memory content. Checked last.
	ContentRegex string
}

// ModuleDescriptor is the static definition of a module, registered once at
// process start (§3 "Module Descriptor").
type ModuleDescriptor struct {
	ID                 string
	Name               string
	Description        string
	Type               string
	EmbeddingDimension  int
	TableName           string
	ClassifyHints       []ClassifyRule
}

// MemoryHit is a single search result, carrying enough context to merge
// across modules (§4.3 "search").
type MemoryHit struct {
	ID         string                 `json:"id"`
	ModuleID   string                 `json:"moduleId"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
	UpdatedAt  time.Time              `json:"-"`
}

// ModuleStats summarizes a module's contents for a single user (§4.3 "getStats").
type ModuleStats struct {
	ModuleID    string `json:"moduleId"`
	MemoryCount int64  `json:"memoryCount"`
}
