// Package toolexecutor registers and executes the tools a model may call.
//
// Invariants:
// - Tool names are unique.
// - Arguments are schema-validated and decoded before a handler runs.
// - Execute never panics and never returns an error; every failure becomes
//   a Result carrying a ToolError.
// - Batches run concurrently but results and patches keep call order.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{Logger: logger})
//	_ = exec.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
//			return toolexecutor.Output{Result: inv.Call.Args["text"]}, nil
//		},
//	})
//	res := exec.Execute(ctx, "alice", toolexecutor.Call{Name: "echo", Args: map[string]any{"text": "hi"}}, snapshot)
package toolexecutor
