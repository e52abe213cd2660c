// Package cmi implements the Central Memory Index (C5): the federated
// router that classifies writes to a module and fans reads out across every
// module's compressed summary, merging results by an importance-weighted
// score (§4.5).
package cmi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/model"
	"github.com/federated-memory/federated-memory/internal/module"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
	"github.com/federated-memory/federated-memory/internal/security"
)

const indexTableName = "cmi_index"

// CMI is the Central Memory Index.
type CMI struct {
	modules  *module.Registry
	index    registryvector.Store
	embedder registryembed.Embedder
	cfg      *config.Config
}

// New constructs the CMI and ensures its backing table exists.
func New(ctx context.Context, modules *module.Registry, index registryvector.Store, embedder registryembed.Embedder, cfg *config.Config) (*CMI, error) {
	table := registryvector.TableConfig{Name: indexTableName, EmbeddingDimension: cfg.EmbeddingDimensionCompressed}
	if err := index.EnsureTable(ctx, table); err != nil {
		return nil, fmt.Errorf("cmi: ensure table: %w", err)
	}
	return &CMI{modules: modules, index: index, embedder: embedder, cfg: cfg}, nil
}

func (c *CMI) table() registryvector.TableConfig {
	return registryvector.TableConfig{Name: indexTableName, EmbeddingDimension: c.cfg.EmbeddingDimensionCompressed}
}

// cmiRecordID derives the CMI table's primary key from the owning module and
// remote memory id, so a memory's CMI entry can be located without a scan.
func cmiRecordID(moduleID, remoteMemoryID string) string {
	return moduleID + ":" + remoteMemoryID
}

// StoreMemory classifies content to a module (unless moduleID is given
// explicitly), writes the full memory there, then write-through indexes a
// compressed summary into the CMI (§4.5 "Routing writes").
func (c *CMI) StoreMemory(ctx context.Context, userID, content string, metadata map[string]interface{}, moduleID string) (model.Memory, error) {
	if moduleID == "" {
		moduleID = c.modules.Classify(content, metadata)
	}
	mod, ok := c.modules.Get(moduleID)
	if !ok {
		return model.Memory{}, &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)}
	}

	mem, err := mod.Store(ctx, userID, content, metadata)
	if err != nil {
		return model.Memory{}, err
	}

	if err := c.indexMemory(ctx, userID, mem); err != nil {
		// The memory itself committed; the CMI entry is eventually
		// reconciled by the integrity sweep (see service/sweep.go).
		log.Error("cmi: write-through index failed", "module", moduleID, "memoryId", mem.ID, "err", err)
	}
	return mem, nil
}

// indexMemory computes a compressed embedding and summary metadata for mem
// and upserts its CMI entry.
func (c *CMI) indexMemory(ctx context.Context, userID string, mem model.Memory) error {
	vectors, err := c.embedder.EmbedTexts(ctx, []string{mem.Content}, registryembed.TierCompressed)
	if err != nil {
		return &ferrors.EmbeddingUnavailableError{Cause: err}
	}

	entry := summarize(mem)
	rec := registryvector.Record{
		ID:        cmiRecordID(mem.ModuleID, mem.ID),
		UserID:    userID,
		Content:   entry.Summary,
		Embedding: vectors[0],
		Metadata: map[string]interface{}{
			"moduleId":        mem.ModuleID,
			"remoteMemoryId":  mem.ID,
			"title":           entry.Title,
			"keywords":        entry.Keywords,
			"categories":      entry.Categories,
			"importanceScore": entry.ImportanceScore,
		},
		CreatedAt: mem.CreatedAt,
		UpdatedAt: mem.UpdatedAt,
	}

	_, err = c.index.GetByID(ctx, c.table(), userID, rec.ID)
	switch {
	case errors.Is(err, registryvector.ErrNotFound):
		return c.index.Insert(ctx, c.table(), rec)
	case err != nil:
		return &ferrors.StorageFailureError{Op: "cmi.indexMemory", Cause: err}
	default:
		return c.index.Update(ctx, c.table(), rec)
	}
}

// resolveModule finds the module owning a memory by scanning the CMI index
// on remoteMemoryId, for callers that address a memory by (userId, memoryId)
// alone (§4.5 "Get and update operations accept (userId, memoryId) without a
// module id; the CMI resolves the module by scanning its index").
func (c *CMI) resolveModule(ctx context.Context, userID, id string) (string, error) {
	recs, err := c.index.FilterScan(ctx, c.table(), userID, []registryvector.Filter{
		{Field: "remoteMemoryId", Op: registryvector.FilterEquals, Value: id},
	}, 1)
	if err != nil {
		return "", &ferrors.StorageFailureError{Op: "cmi.resolveModule", Cause: err}
	}
	if len(recs) == 0 {
		return "", &ferrors.NotFoundError{Resource: "memory", ID: id}
	}
	moduleID, _ := recs[0].Metadata["moduleId"].(string)
	if moduleID == "" {
		return "", &ferrors.NotFoundError{Resource: "memory", ID: id}
	}
	return moduleID, nil
}

// GetMemory returns a memory by id. moduleID is optional: when empty, the
// owning module is resolved from the CMI index first.
func (c *CMI) GetMemory(ctx context.Context, userID, moduleID, id string) (model.Memory, error) {
	if moduleID == "" {
		resolved, err := c.resolveModule(ctx, userID, id)
		if err != nil {
			return model.Memory{}, err
		}
		moduleID = resolved
	}
	mod, ok := c.modules.Get(moduleID)
	if !ok {
		return model.Memory{}, &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)}
	}
	return mod.Get(ctx, userID, id)
}

// DeleteMemory removes a memory from its module and its CMI entry. moduleID
// is optional: when empty, the owning module is resolved from the CMI index
// first (§4.5). It returns the module the memory was deleted from, so
// callers that also need to clean up relationships don't have to resolve it
// twice. Deleting a memory the index no longer knows is a no-op success and
// returns an empty module id.
func (c *CMI) DeleteMemory(ctx context.Context, userID, moduleID, id string) (string, error) {
	if moduleID == "" {
		resolved, err := c.resolveModule(ctx, userID, id)
		if err != nil {
			var notFound *ferrors.NotFoundError
			if errors.As(err, &notFound) {
				return "", nil
			}
			return "", err
		}
		moduleID = resolved
	}
	mod, ok := c.modules.Get(moduleID)
	if !ok {
		return "", &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)}
	}
	if err := mod.Delete(ctx, userID, id); err != nil {
		return "", err
	}
	if err := c.index.Delete(ctx, c.table(), userID, cmiRecordID(moduleID, id)); err != nil {
		log.Error("cmi: index delete failed", "module", moduleID, "memoryId", id, "err", err)
	}
	return moduleID, nil
}

// UpdateMemory updates content/metadata in the owning module and re-indexes
// the CMI entry. moduleID is optional: when empty, the owning module is
// resolved from the CMI index first (§4.5).
func (c *CMI) UpdateMemory(ctx context.Context, userID, moduleID, id string, content *string, metadata map[string]interface{}) (model.Memory, error) {
	if moduleID == "" {
		resolved, err := c.resolveModule(ctx, userID, id)
		if err != nil {
			return model.Memory{}, err
		}
		moduleID = resolved
	}
	mod, ok := c.modules.Get(moduleID)
	if !ok {
		return model.Memory{}, &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)}
	}
	mem, err := mod.Update(ctx, userID, id, content, metadata)
	if err != nil {
		return model.Memory{}, err
	}
	if err := c.indexMemory(ctx, userID, mem); err != nil {
		log.Error("cmi: re-index failed", "module", moduleID, "memoryId", id, "err", err)
	}
	return mem, nil
}

// ReconcileUser restores the "every row has exactly one CMI entry" invariant
// for one user: it scans every module's rows and write-through indexes any
// memory whose CMI entry is missing, recovering from a StorageFailure that
// left indexMemory's write-through half-done. Used by the integrity sweep
// service, never by request-path tool handlers.
func (c *CMI) ReconcileUser(ctx context.Context, userID string) (int, error) {
	repaired := 0
	for _, mod := range c.modules.All() {
		memories, err := mod.Scan(ctx, userID, nil)
		if err != nil {
			return repaired, err
		}
		for _, mem := range memories {
			_, err := c.index.GetByID(ctx, c.table(), userID, cmiRecordID(mem.ModuleID, mem.ID))
			if err == nil {
				continue
			}
			if !errors.Is(err, registryvector.ErrNotFound) {
				log.Error("cmi: reconcile lookup failed, skipping", "user", userID, "module", mem.ModuleID, "memoryId", mem.ID, "err", err)
				continue
			}
			if err := c.indexMemory(ctx, userID, mem); err != nil {
				log.Error("cmi: reconcile failed", "user", userID, "module", mem.ModuleID, "memoryId", mem.ID, "err", err)
				continue
			}
			repaired++
		}
	}
	return repaired, nil
}

// Search fans a query out across every module via the CMI's compressed
// index, then re-ranks by exact full-resolution similarity from the owning
// modules, and returns up to limit results ordered best-first (§4.5
// "search", steps 2-4).
//
// Step 2 gets coarse candidates from the compressed CMI index. Step 3
// groups them by moduleId and asks each module for the full rows (getMany)
// plus the full-resolution similarity of each to the query's full
// embedding. Step 4 merges and re-ranks by that full-resolution similarity,
// importance-weighted:
//
//	rank = fullSimilarity * (1 - ImportanceWeight*(1 - importanceScore))
//
// A module whose full-record fetch fails is skipped rather than failing the
// whole search (§8 "partial fan-out failure"); SearchUnavailableError is
// returned when the query cannot be embedded or the CMI candidate lookup
// itself fails.
func (c *CMI) Search(ctx context.Context, userID, queryText string, limit int) ([]model.MemoryHit, error) {
	if limit <= 0 {
		limit = 10
	}
	compressedVectors, err := c.embedder.EmbedTexts(ctx, []string{queryText}, registryembed.TierCompressed)
	if err != nil {
		return nil, &ferrors.SearchUnavailableError{Cause: err}
	}
	fullVectors, err := c.embedder.EmbedTexts(ctx, []string{queryText}, registryembed.TierFull)
	if err != nil {
		return nil, &ferrors.SearchUnavailableError{Cause: err}
	}
	fullQuery := fullVectors[0]

	candidateK := limit * c.cfg.FanoutFactor
	if candidateK <= 0 {
		candidateK = limit
	}
	candidates, err := c.index.KNNSearch(ctx, c.table(), userID, compressedVectors[0], candidateK, nil)
	if err != nil {
		return nil, &ferrors.SearchUnavailableError{Cause: err}
	}

	type candidateMeta struct {
		remoteID   string
		importance float64
	}
	byModule := make(map[string][]candidateMeta)
	order := make([]string, 0)
	for _, cand := range candidates {
		moduleID, _ := cand.Record.Metadata["moduleId"].(string)
		remoteID, _ := cand.Record.Metadata["remoteMemoryId"].(string)
		importance, _ := cand.Record.Metadata["importanceScore"].(float64)
		if _, seen := byModule[moduleID]; !seen {
			order = append(order, moduleID)
		}
		byModule[moduleID] = append(byModule[moduleID], candidateMeta{remoteID: remoteID, importance: importance})
	}

	type scored struct {
		hit   model.MemoryHit
		score float64
	}
	var results []scored
	for _, moduleID := range order {
		metas := byModule[moduleID]
		mod, ok := c.modules.Get(moduleID)
		if !ok {
			security.RecordModuleFanoutError(moduleID)
			continue
		}
		ids := make([]string, len(metas))
		importanceByID := make(map[string]float64, len(metas))
		for i, meta := range metas {
			ids[i] = meta.remoteID
			importanceByID[meta.remoteID] = meta.importance
		}
		memories, err := mod.GetMany(ctx, userID, ids)
		if err != nil {
			security.RecordModuleFanoutError(moduleID)
			log.Warn("cmi: fan-out fetch failed, skipping module", "module", moduleID, "err", err)
			continue
		}
		for _, mem := range memories {
			fullSim := cosineSimilarity(fullQuery, mem.Embedding)
			importance := importanceByID[mem.ID]
			rank := fullSim * (1 - c.cfg.ImportanceWeight*(1-importance))
			results = append(results, scored{
				hit: model.MemoryHit{
					ID:         mem.ID,
					ModuleID:   moduleID,
					Content:    mem.Content,
					Metadata:   mem.Metadata,
					Similarity: rank,
					UpdatedAt:  mem.UpdatedAt,
				},
				score: rank,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if !results[i].hit.UpdatedAt.Equal(results[j].hit.UpdatedAt) {
			return results[i].hit.UpdatedAt.After(results[j].hit.UpdatedAt)
		}
		return results[i].hit.ID < results[j].hit.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	hits := make([]model.MemoryHit, len(results))
	for i, r := range results {
		hits[i] = r.hit
	}
	return hits, nil
}

// cosineSimilarity computes the full-resolution similarity between the
// query embedding and a candidate's embedding (§4.5 step 3), clamped to
// [0, 1] (§4.2).
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

type summary struct {
	Title           string
	Summary         string
	Keywords        []string
	Categories      []string
	ImportanceScore float64
}

// summarize builds a CMI entry's compressed view of a memory: a short title,
// a truncated summary, simple keyword extraction, caller-supplied
// categories, and an importance score from metadata (defaulting to 0.5 when
// absent).
func summarize(mem model.Memory) summary {
	title := mem.Content
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	sum := mem.Content
	if len(sum) > 400 {
		sum = sum[:397] + "..."
	}

	var categories []string
	if raw, ok := mem.Metadata["categories"].([]interface{}); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				categories = append(categories, s)
			}
		}
	}

	importance := 0.5
	if v, ok := mem.Metadata["importance"].(float64); ok {
		importance = v
	}

	return summary{
		Title:           title,
		Summary:         sum,
		Keywords:        extractKeywords(mem.Content, 8),
		Categories:      categories,
		ImportanceScore: importance,
	}
}

// extractKeywords returns up to n distinct lowercase word tokens longer than
// 3 characters, in first-seen order. This is intentionally simple: no NLP,
// no stemming, matching the "no NLP" constraint used elsewhere for
// caller-supplied classification fields.
func extractKeywords(content string, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, word := range strings.Fields(content) {
		w := strings.ToLower(strings.Trim(word, ".,!?;:\"'()"))
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= n {
			break
		}
	}
	return out
}
