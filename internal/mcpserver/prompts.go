package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerPrompts wires the small set of canned prompts that help a client
// model decide which tool to reach for (§6 "prompts/list, prompts/get").
func registerPrompts(s *server.MCPServer) {
	s.AddPrompt(mcp.NewPrompt("recall-context",
		mcp.WithPromptDescription("Guidance for pulling relevant memories into context before answering a user."),
		mcp.WithArgument("topic", mcp.ArgumentDescription("What the user is currently asking about.")),
	), func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		topic := req.Params.Arguments["topic"]
		text := "Call searchMemory with the user's current topic" +
			" before answering, so any relevant prior memory is available."
		if topic != "" {
			text = "Call searchMemory with query \"" + topic + "\" before answering."
		}
		return &mcp.GetPromptResult{
			Description: "Recall relevant memories before responding",
			Messages: []mcp.PromptMessage{
				{
					Role:    mcp.RoleUser,
					Content: mcp.NewTextContent(text),
				},
			},
		}, nil
	})

	s.AddPrompt(mcp.NewPrompt("store-noteworthy-fact",
		mcp.WithPromptDescription("Guidance for deciding whether and how to persist a fact the user just stated."),
	), func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "Persist a noteworthy fact",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.NewTextContent(
						"If the user stated something worth remembering, call storeMemory with the " +
							"fact verbatim and let classification route it; only pin moduleId when the " +
							"user named a specific context (e.g. \"for work\").",
					),
				},
			},
		}, nil
	})
}
