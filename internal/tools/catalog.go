// Package tools defines the MCP tool catalog (C8): public/private tool
// definitions whose handlers are thin adapters over the CMI and module
// layers (§4.8).
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/federated-memory/federated-memory/internal/cmi"
	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/model"
	"github.com/federated-memory/federated-memory/internal/module"
	"github.com/federated-memory/federated-memory/internal/module/catalog"
	"github.com/federated-memory/federated-memory/internal/relationship"
	"github.com/federated-memory/federated-memory/internal/security"
)

// Definition is one catalog entry: the mcp-go tool schema, its visibility,
// and its handler (§4.8 "{name, title, description, inputSchema,
// visibility, handler}").
type Definition struct {
	Tool    mcpgo.Tool
	Public  bool
	Handler mcpgo.ToolHandlerFunc
}

// Catalog builds the static tool catalog, wiring handlers to cmiSvc (search/
// write routing), modules (per-module convenience tools and analysis), and
// rel (relationship CRUD).
func Catalog(cmiSvc *cmi.CMI, modules *module.Registry, rel relationship.Store) []Definition {
	defs := []Definition{
		listModulesTool(modules),
		getModuleStatsTool(modules),
		getSessionInfoTool(),
		storeMemoryTool(cmiSvc),
		getMemoryTool(cmiSvc),
		updateMemoryTool(cmiSvc),
		deleteMemoryTool(cmiSvc, rel),
		searchMemoryTool(cmiSvc),
		searchModuleMemoryTool(modules),
		getModuleAnalysisTool(modules),
		getCategoryStatsTool(modules),
		getMemoryStatsTool(modules),
		linkMemoriesTool(rel),
		getRelatedMemoriesTool(rel),
		unlinkMemoriesTool(rel),
	}
	for _, id := range []string{catalog.Technical, catalog.Personal, catalog.Work, catalog.Learning, catalog.Communication, catalog.Creative} {
		defs = append(defs, storeModuleMemoryTool(cmiSvc, id))
	}
	return defs
}

// PrivateNames returns the tool names requiring authentication, used by the
// HTTP transport's gate to answer -32001 before dispatch (§4.7 "Tool
// gating").
func PrivateNames(defs []Definition) map[string]bool {
	names := map[string]bool{}
	for _, d := range defs {
		if !d.Public {
			names[d.Tool.Name] = true
		}
	}
	return names
}

// --- session / module meta -------------------------------------------------

func listModulesTool(modules *module.Registry) Definition {
	return Definition{
		Public: true,
		Tool: mcpgo.NewTool("listModules",
			mcpgo.WithDescription("Lists every registered topical module and its description."),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			var out []map[string]string
			for _, m := range modules.All() {
				out = append(out, map[string]string{
					"id":          m.Descriptor.ID,
					"name":        m.Descriptor.Name,
					"description": m.Descriptor.Description,
				})
			}
			return result("listModules", out)
		},
	}
}

func getModuleStatsTool(modules *module.Registry) Definition {
	return Definition{
		Public: true,
		Tool: mcpgo.NewTool("getModuleStats",
			mcpgo.WithDescription("Returns the memory count for a module, for the authenticated user (0 if unauthenticated)."),
			mcpgo.WithString("moduleId", mcpgo.Required(), mcpgo.Description("Module id, e.g. \"work\".")),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			moduleID, err := req.RequireString("moduleId")
			if err != nil {
				return errResult("getModuleStats", &ferrors.InvalidArgumentError{Field: "moduleId", Message: err.Error()})
			}
			mod, ok := modules.Get(moduleID)
			if !ok {
				return errResult("getModuleStats", &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)})
			}
			uc := security.UserFromContext(ctx)
			if uc == nil {
				return result("getModuleStats", model.ModuleStats{ModuleID: moduleID})
			}
			stats, err := mod.Stats(ctx, uc.UserID)
			if err != nil {
				return errResult("getModuleStats", err)
			}
			return result("getModuleStats", stats)
		},
	}
}

func getSessionInfoTool() Definition {
	return Definition{
		Public: true,
		Tool: mcpgo.NewTool("getSessionInfo",
			mcpgo.WithDescription("Reports whether this session is authenticated, without requiring it to be."),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc := security.UserFromContext(ctx)
			info := map[string]interface{}{"authenticated": uc != nil}
			if uc != nil {
				info["userId"] = uc.UserID
				info["email"] = uc.Email
			}
			return result("getSessionInfo", info)
		},
	}
}

// --- memory CRUD -------------------------------------------------------

func storeMemoryTool(cmiSvc *cmi.CMI) Definition {
	return Definition{
		Tool: mcpgo.NewTool("storeMemory",
			mcpgo.WithDescription("Stores a memory, classifying it to a module unless moduleId is given explicitly."),
			mcpgo.WithString("content", mcpgo.Required()),
			mcpgo.WithObject("metadata", mcpgo.Description("Arbitrary caller metadata (tags, type, etc).")),
			mcpgo.WithString("moduleId", mcpgo.Description("Explicit module id, bypassing classification.")),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "storeMemory")
			if err != nil {
				return nil, err
			}
			content, err := req.RequireString("content")
			if err != nil {
				return errResult("storeMemory", &ferrors.InvalidArgumentError{Field: "content", Message: err.Error()})
			}
			metadata := objectArg(req, "metadata")
			moduleID := req.GetString("moduleId", "")
			mem, err := cmiSvc.StoreMemory(ctx, uc.UserID, content, metadata, moduleID)
			if err != nil {
				return errResult("storeMemory", err)
			}
			return result("storeMemory", mem)
		},
	}
}

func storeModuleMemoryTool(cmiSvc *cmi.CMI, moduleID string) Definition {
	name := "store" + capitalize(moduleID) + "Memory"
	return Definition{
		Tool: mcpgo.NewTool(name,
			mcpgo.WithDescription(fmt.Sprintf("Stores a memory directly in the %s module, bypassing classification.", moduleID)),
			mcpgo.WithString("content", mcpgo.Required()),
			mcpgo.WithObject("metadata"),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, name)
			if err != nil {
				return nil, err
			}
			content, err := req.RequireString("content")
			if err != nil {
				return errResult(name, &ferrors.InvalidArgumentError{Field: "content", Message: err.Error()})
			}
			mem, err := cmiSvc.StoreMemory(ctx, uc.UserID, content, objectArg(req, "metadata"), moduleID)
			if err != nil {
				return errResult(name, err)
			}
			return result(name, mem)
		},
	}
}

func getMemoryTool(cmiSvc *cmi.CMI) Definition {
	return Definition{
		Tool: mcpgo.NewTool("getMemory",
			mcpgo.WithDescription("Fetches one memory by id. moduleId is an optional hint; the CMI resolves it from its index when omitted."),
			mcpgo.WithString("moduleId"),
			mcpgo.WithString("id", mcpgo.Required()),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "getMemory")
			if err != nil {
				return nil, err
			}
			moduleID, id, argErr := optionalModuleAndID(req)
			if argErr != nil {
				return errResult("getMemory", argErr)
			}
			mem, err := cmiSvc.GetMemory(ctx, uc.UserID, moduleID, id)
			if err != nil {
				return errResult("getMemory", err)
			}
			return result("getMemory", mem)
		},
	}
}

func updateMemoryTool(cmiSvc *cmi.CMI) Definition {
	return Definition{
		Tool: mcpgo.NewTool("updateMemory",
			mcpgo.WithDescription("Updates a memory's content and/or metadata; re-embeds only if content changes. moduleId is an optional hint."),
			mcpgo.WithString("moduleId"),
			mcpgo.WithString("id", mcpgo.Required()),
			mcpgo.WithString("content"),
			mcpgo.WithObject("metadata"),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "updateMemory")
			if err != nil {
				return nil, err
			}
			moduleID, id, argErr := optionalModuleAndID(req)
			if argErr != nil {
				return errResult("updateMemory", argErr)
			}
			args := req.GetArguments()
			var content *string
			if v, ok := args["content"].(string); ok {
				content = &v
			}
			var metadata map[string]interface{}
			if v, ok := args["metadata"].(map[string]interface{}); ok {
				metadata = v
			}
			mem, err := cmiSvc.UpdateMemory(ctx, uc.UserID, moduleID, id, content, metadata)
			if err != nil {
				return errResult("updateMemory", err)
			}
			return result("updateMemory", mem)
		},
	}
}

func deleteMemoryTool(cmiSvc *cmi.CMI, rel relationship.Store) Definition {
	return Definition{
		Tool: mcpgo.NewTool("deleteMemory",
			mcpgo.WithDescription("Deletes a memory, its CMI entry, and every relationship touching it. Idempotent. moduleId is an optional hint."),
			mcpgo.WithString("moduleId"),
			mcpgo.WithString("id", mcpgo.Required()),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "deleteMemory")
			if err != nil {
				return nil, err
			}
			moduleID, id, argErr := optionalModuleAndID(req)
			if argErr != nil {
				return errResult("deleteMemory", argErr)
			}
			resolvedModuleID, err := cmiSvc.DeleteMemory(ctx, uc.UserID, moduleID, id)
			if err != nil {
				return errResult("deleteMemory", err)
			}
			if err := rel.DeleteForMemory(ctx, uc.UserID, resolvedModuleID, id); err != nil {
				return errResult("deleteMemory", err)
			}
			return result("deleteMemory", map[string]bool{"deleted": true})
		},
	}
}

func searchMemoryTool(cmiSvc *cmi.CMI) Definition {
	return Definition{
		Tool: mcpgo.NewTool("searchMemory",
			mcpgo.WithDescription("Searches across every module via the Central Memory Index, ranked by importance-weighted similarity."),
			mcpgo.WithString("query", mcpgo.Required()),
			mcpgo.WithNumber("limit", mcpgo.Description("Max results (default 10).")),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "searchMemory")
			if err != nil {
				return nil, err
			}
			query, err := req.RequireString("query")
			if err != nil {
				return errResult("searchMemory", &ferrors.InvalidArgumentError{Field: "query", Message: err.Error()})
			}
			limit := int(req.GetFloat("limit", 10))
			hits, err := cmiSvc.Search(ctx, uc.UserID, query, limit)
			if err != nil {
				return errResult("searchMemory", err)
			}
			return result("searchMemory", hits)
		},
	}
}

func searchModuleMemoryTool(modules *module.Registry) Definition {
	return Definition{
		Tool: mcpgo.NewTool("searchModuleMemory",
			mcpgo.WithDescription("Searches a single module's full-resolution embeddings directly, bypassing the CMI."),
			mcpgo.WithString("moduleId", mcpgo.Required()),
			mcpgo.WithString("query", mcpgo.Required()),
			mcpgo.WithNumber("limit"),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "searchModuleMemory")
			if err != nil {
				return nil, err
			}
			moduleID := req.GetString("moduleId", "")
			query, err := req.RequireString("query")
			if err != nil {
				return errResult("searchModuleMemory", &ferrors.InvalidArgumentError{Field: "query", Message: err.Error()})
			}
			mod, ok := modules.Get(moduleID)
			if !ok {
				return errResult("searchModuleMemory", &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)})
			}
			limit := int(req.GetFloat("limit", 10))
			hits, err := mod.Search(ctx, uc.UserID, query, limit)
			if err != nil {
				return errResult("searchModuleMemory", err)
			}
			return result("searchModuleMemory", hits)
		},
	}
}

// --- analytics -----------------------------------------------------------

func getModuleAnalysisTool(modules *module.Registry) Definition {
	return Definition{
		Tool: mcpgo.NewTool("getModuleAnalysis",
			mcpgo.WithDescription("Returns the module-specific analysis (e.g. active projects for work, stage histogram for learning)."),
			mcpgo.WithString("moduleId", mcpgo.Required()),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "getModuleAnalysis")
			if err != nil {
				return nil, err
			}
			moduleID, err := req.RequireString("moduleId")
			if err != nil {
				return errResult("getModuleAnalysis", &ferrors.InvalidArgumentError{Field: "moduleId", Message: err.Error()})
			}
			mod, ok := modules.Get(moduleID)
			if !ok {
				return errResult("getModuleAnalysis", &ferrors.InvalidArgumentError{Field: "moduleId", Message: fmt.Sprintf("unknown module %q", moduleID)})
			}
			memories, err := mod.Scan(ctx, uc.UserID, nil)
			if err != nil {
				return errResult("getModuleAnalysis", err)
			}
			return result("getModuleAnalysis", catalog.Analyze(moduleID, memories))
		},
	}
}

func getCategoryStatsTool(modules *module.Registry) Definition {
	return Definition{
		Tool: mcpgo.NewTool("getCategoryStats",
			mcpgo.WithDescription("Returns the memory count per module for the authenticated user, across all modules."),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "getCategoryStats")
			if err != nil {
				return nil, err
			}
			stats := map[string]int64{}
			for _, mod := range modules.All() {
				s, err := mod.Stats(ctx, uc.UserID)
				if err != nil {
					return errResult("getCategoryStats", err)
				}
				stats[mod.Descriptor.ID] = s.MemoryCount
			}
			return result("getCategoryStats", stats)
		},
	}
}

func getMemoryStatsTool(modules *module.Registry) Definition {
	return Definition{
		Tool: mcpgo.NewTool("getMemoryStats",
			mcpgo.WithDescription("Returns the total memory count across all modules for the authenticated user."),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "getMemoryStats")
			if err != nil {
				return nil, err
			}
			var total int64
			for _, mod := range modules.All() {
				s, err := mod.Stats(ctx, uc.UserID)
				if err != nil {
					return errResult("getMemoryStats", err)
				}
				total += s.MemoryCount
			}
			return result("getMemoryStats", map[string]int64{"totalMemories": total})
		},
	}
}

// --- relationships -----------------------------------------------------

func linkMemoriesTool(rel relationship.Store) Definition {
	return Definition{
		Tool: mcpgo.NewTool("linkMemories",
			mcpgo.WithDescription("Creates a relationship between two memories, possibly across modules."),
			mcpgo.WithString("sourceModule", mcpgo.Required()),
			mcpgo.WithString("sourceMemoryId", mcpgo.Required()),
			mcpgo.WithString("targetModule", mcpgo.Required()),
			mcpgo.WithString("targetMemoryId", mcpgo.Required()),
			mcpgo.WithString("relationshipType", mcpgo.Description("Free-form relationship label, e.g. \"relates_to\".")),
			mcpgo.WithNumber("strength"),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "linkMemories")
			if err != nil {
				return nil, err
			}
			sourceModule, e1 := req.RequireString("sourceModule")
			sourceID, e2 := req.RequireString("sourceMemoryId")
			targetModule, e3 := req.RequireString("targetModule")
			targetID, e4 := req.RequireString("targetMemoryId")
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
				return errResult("linkMemories", &ferrors.InvalidArgumentError{Message: "sourceModule, sourceMemoryId, targetModule, targetMemoryId are required"})
			}
			relType := req.GetString("relationshipType", "relates_to")
			strength := req.GetFloat("strength", 1.0)
			created, err := rel.Link(ctx, model.Relationship{
				UserID:           uc.UserID,
				SourceModule:     sourceModule,
				SourceMemoryID:   sourceID,
				TargetModule:     targetModule,
				TargetMemoryID:   targetID,
				RelationshipType: relType,
				Strength:         strength,
			})
			if err != nil {
				return errResult("linkMemories", err)
			}
			return result("linkMemories", created)
		},
	}
}

func getRelatedMemoriesTool(rel relationship.Store) Definition {
	return Definition{
		Tool: mcpgo.NewTool("getRelatedMemories",
			mcpgo.WithDescription("Lists relationships touching the given memory, in either direction."),
			mcpgo.WithString("moduleId", mcpgo.Required()),
			mcpgo.WithString("memoryId", mcpgo.Required()),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "getRelatedMemories")
			if err != nil {
				return nil, err
			}
			moduleID := req.GetString("moduleId", "")
			memoryID := req.GetString("memoryId", "")
			rels, err := rel.RelatedTo(ctx, uc.UserID, moduleID, memoryID)
			if err != nil {
				return errResult("getRelatedMemories", err)
			}
			return result("getRelatedMemories", rels)
		},
	}
}

func unlinkMemoriesTool(rel relationship.Store) Definition {
	return Definition{
		Tool: mcpgo.NewTool("unlinkMemories",
			mcpgo.WithDescription("Removes a relationship by id."),
			mcpgo.WithString("id", mcpgo.Required()),
		),
		Handler: func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			uc, err := requireUser(ctx, "unlinkMemories")
			if err != nil {
				return nil, err
			}
			id, err := req.RequireString("id")
			if err != nil {
				return errResult("unlinkMemories", &ferrors.InvalidArgumentError{Field: "id", Message: err.Error()})
			}
			if err := rel.Unlink(ctx, uc.UserID, id); err != nil {
				return errResult("unlinkMemories", err)
			}
			return result("unlinkMemories", map[string]bool{"unlinked": true})
		},
	}
}

// --- shared helpers ------------------------------------------------------

func requireUser(ctx context.Context, tool string) (*security.UserContext, error) {
	uc, err := security.RequireAuthenticated(security.UserFromContext(ctx), tool)
	if err != nil {
		security.RecordToolInvocation(tool, "unauthenticated")
		return nil, err
	}
	return uc, nil
}

func moduleAndID(req mcpgo.CallToolRequest) (string, string, error) {
	moduleID, err := req.RequireString("moduleId")
	if err != nil {
		return "", "", &ferrors.InvalidArgumentError{Field: "moduleId", Message: err.Error()}
	}
	id, err := req.RequireString("id")
	if err != nil {
		return "", "", &ferrors.InvalidArgumentError{Field: "id", Message: err.Error()}
	}
	return moduleID, id, nil
}

// optionalModuleAndID is moduleAndID for tools where moduleId is a hint, not
// a requirement: the CMI resolves the owning module from its index when it's
// omitted (§4.5).
func optionalModuleAndID(req mcpgo.CallToolRequest) (string, string, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return "", "", &ferrors.InvalidArgumentError{Field: "id", Message: err.Error()}
	}
	return req.GetString("moduleId", ""), id, nil
}

func objectArg(req mcpgo.CallToolRequest, name string) map[string]interface{} {
	v, ok := req.GetArguments()[name].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return v
}

// result marshals v as the tool's JSON text content block (§4.7 "Tool
// output is serialized as a JSON text content block").
func result(tool string, v interface{}) (*mcpgo.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		security.RecordToolInvocation(tool, "error")
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	security.RecordToolInvocation(tool, "ok")
	return mcpgo.NewToolResultText(string(data)), nil
}

// errResult renders a domain error as a tool-level error result whose text
// is the JSON object {message, kind}, kind being the ferrors kind so clients
// can distinguish retryable failures. It carries no JSON-RPC code and no
// data wrapper.
func errResult(tool string, err error) (*mcpgo.CallToolResult, error) {
	security.RecordToolInvocation(tool, "error")
	kind := "Internal"
	if k, ok := err.(interface{ Kind() string }); ok {
		kind = k.Kind()
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"message": err.Error(),
		"kind":    kind,
	})
	return mcpgo.NewToolResultError(string(payload)), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}
