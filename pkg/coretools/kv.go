package coretools

import (
	"context"
	"errors"
	"strings"

	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
)

const maxKVValue = 64 * 1024

func kvKey(identity, key string) string {
	return "kv:" + identity + ":" + key
}

func kvGetTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "kv_get",
		Description: "Read a value from your private key-value store.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Key", Required: true},
		},
		Args: func() toolexecutor.Args { return &kvGetArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *kvGetArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			key := strings.TrimSpace(args.Key)
			if key == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("key is empty", "Pass a non-empty key.")
			}
			v, err := opts.KV.Get(ctx, kvKey(inv.Identity, key))
			if errors.Is(err, store.ErrNotFound) {
				return toolexecutor.Output{Result: map[string]any{"key": key, "found": false}}, nil
			}
			if err != nil {
				return toolexecutor.Output{}, err
			}
			return toolexecutor.Output{Result: map[string]any{"key": key, "found": true, "value": string(v)}}, nil
		}),
	}
}

func kvSetTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "kv_set",
		Description: "Store a string value in your private key-value store.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Key", Required: true},
			{Name: "value", Type: "string", Description: "Value", Required: true},
		},
		Args: func() toolexecutor.Args { return &kvSetArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *kvSetArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			key := strings.TrimSpace(args.Key)
			if key == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("key is empty", "Pass a non-empty key.")
			}
			if len(args.Value) > maxKVValue {
				return toolexecutor.Output{}, toolexecutor.NewToolError("value too large", "Store values under 64KB, or use fs_write for larger content.")
			}
			if err := opts.KV.Put(ctx, kvKey(inv.Identity, key), []byte(args.Value)); err != nil {
				return toolexecutor.Output{}, err
			}
			return toolexecutor.Output{Result: map[string]any{"key": key, "bytes": len(args.Value)}}, nil
		}),
	}
}
