package coretools

import (
	"context"
	"strings"

	"github.com/kskip310/luminous/pkg/toolexecutor"
)

func rememberTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "remember",
		Description: "Store a fact or note in long-term memory.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "What to remember", Required: true},
		},
		Args: func() toolexecutor.Args { return &rememberArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *rememberArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			text := strings.TrimSpace(args.Text)
			if text == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("text is empty", "Pass the text to remember.")
			}
			chunk, err := opts.Memory.Remember(ctx, inv.Identity, text)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			return toolexecutor.Output{Result: map[string]any{"id": chunk.ID, "timestamp": chunk.Timestamp}}, nil
		}),
	}
}

func recallTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "recall",
		Description: "Search long-term memory for notes related to a query.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum results (default 5)"},
		},
		Args: func() toolexecutor.Args { return &recallArgs{Limit: 5} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *recallArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			hits, err := opts.Memory.Recall(ctx, inv.Identity, args.Query, args.Limit)
			if err != nil {
				return toolexecutor.Output{}, err
			}
			memories := make([]map[string]any, 0, len(hits))
			for _, h := range hits {
				memories = append(memories, map[string]any{
					"id":        h.ID,
					"content":   h.Content,
					"timestamp": h.Timestamp,
					"score":     h.Score,
				})
			}
			return toolexecutor.Output{Result: map[string]any{"memories": memories}}, nil
		}),
	}
}
