// Package bdd drives the tool catalog directly, in-process, through Gherkin
// scenarios — no HTTP transport involved.
package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/federated-memory/federated-memory/internal/cmi"
	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/embedcache"
	"github.com/federated-memory/federated-memory/internal/module"
	"github.com/federated-memory/federated-memory/internal/module/catalog"
	"github.com/federated-memory/federated-memory/internal/plugin/embed/local"
	"github.com/federated-memory/federated-memory/internal/plugin/vector/memvector"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	"github.com/federated-memory/federated-memory/internal/relationship"
	"github.com/federated-memory/federated-memory/internal/security"
	"github.com/federated-memory/federated-memory/internal/tools"
)

// world holds the state of one scenario: a fresh in-memory stack, the
// current caller identity, and the result of the most recent tool call.
type world struct {
	defs   []tools.Definition
	byName map[string]tools.Definition

	userID    string
	lastRes   *mcpgo.CallToolResult
	lastErr   error
	lastJSON  map[string]interface{}
	lastArray []map[string]interface{}
}

func newWorld() *world {
	ctx := context.Background()
	embedder := &local.Embedder{}
	cached, err := embedcache.New(embedder, 1<<20)
	if err != nil {
		panic(err)
	}
	store := memvector.New()
	modules, err := module.Build(ctx, catalog.Descriptors(embedder.Dimension(registryembed.TierFull)), catalog.DefaultModuleID, store, cached)
	if err != nil {
		panic(err)
	}
	cfg := config.DefaultConfig()
	cmiSvc, err := cmi.New(ctx, modules, store, cached, &cfg)
	if err != nil {
		panic(err)
	}
	rel := relationship.NewMemory()
	defs := tools.Catalog(cmiSvc, modules, rel)

	byName := make(map[string]tools.Definition, len(defs))
	for _, d := range defs {
		byName[d.Tool.Name] = d
	}
	return &world{defs: defs, byName: byName}
}

func (w *world) ctx() context.Context {
	ctx := context.Background()
	if w.userID == "" {
		return security.WithUser(ctx, nil)
	}
	return security.WithUser(ctx, &security.UserContext{UserID: w.userID})
}

func (w *world) callTool(name string, args map[string]interface{}) error {
	def, ok := w.byName[name]
	if !ok {
		return fmt.Errorf("no such tool: %s", name)
	}
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	w.lastJSON = nil
	w.lastArray = nil
	res, err := def.Handler(w.ctx(), req)
	w.lastRes = res
	w.lastErr = err
	if err != nil {
		return nil
	}
	if res == nil || len(res.Content) == 0 {
		return nil
	}
	tc, ok := res.Content[0].(mcpgo.TextContent)
	if !ok {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &obj); err == nil {
		w.lastJSON = obj
		return nil
	}
	var arr []map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &arr); err == nil {
		w.lastArray = arr
	}
	return nil
}

// resultsContainMemoryID reports whether the most recent array-shaped
// result (searchMemory/getRelatedMemories) includes a record whose "id",
// "memoryId", "sourceMemoryId" or "targetMemoryId" field matches id.
func (w *world) resultsContainMemoryID(id string) error {
	for _, item := range w.lastArray {
		if item["id"] == id || item["memoryId"] == id || item["sourceMemoryId"] == id || item["targetMemoryId"] == id {
			return nil
		}
	}
	return fmt.Errorf("result set does not contain memory %q", id)
}

// rankOf returns the position of id within the most recent array-shaped
// result (lower is better-ranked), or -1 if absent.
func (w *world) rankOf(id string) int {
	for i, item := range w.lastArray {
		if item["id"] == id {
			return i
		}
	}
	return -1
}

func (w *world) resultIsError() bool {
	return w.lastRes != nil && w.lastRes.IsError
}

func (w *world) resultText() string {
	if w.lastRes == nil || len(w.lastRes.Content) == 0 {
		return ""
	}
	tc, ok := w.lastRes.Content[0].(mcpgo.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}
