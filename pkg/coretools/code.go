package coretools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const maxCodeOutput = 64 * 1024

func executeCodeTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "execute_code",
		Description: "Run a Go program or snippet in an embedded interpreter with the standard library. " +
			"Programs with package main run their main function; snippets return the value of the last expression.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "language", Type: "string", Description: "Source language", Enum: []string{"go"}},
			{Name: "code", Type: "string", Description: "Source code", Required: true},
		},
		Args:    func() toolexecutor.Args { return &executeCodeArgs{Language: "go"} },
		Timeout: opts.CodeTimeout,
		Handler: toolexecutor.Typed(func(ctx context.Context, args *executeCodeArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			if strings.ToLower(args.Language) != "go" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("unsupported language: "+args.Language, "Write the program in Go.")
			}

			output, value, err := runGo(ctx, args.Code)
			if err != nil {
				te := toolexecutor.NewToolError("code execution failed", "Fix the error and run the code again.")
				te.Details = err.Error()
				if output != "" {
					te.Details += "\noutput:\n" + output
				}
				return toolexecutor.Output{}, te
			}

			result := map[string]any{"output": output}
			if value != "" {
				result["value"] = value
			}
			sandbox := state.CodeSandbox{Language: "go", Code: args.Code, Output: output, Status: "success"}
			return toolexecutor.Output{
				Result: result,
				Patch:  state.Patch{"codeSandbox": sandbox},
			}, nil
		}),
	}
}

// runGo evaluates src with yaegi and returns combined stdout/stderr and the
// printed value of the final expression, if any.
func runGo(ctx context.Context, src string) (output, value string, err error) {
	var out limitedBuffer
	out.limit = maxCodeOutput

	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", "", fmt.Errorf("failed to load standard library: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panicked: %v", r)
			output = out.String()
		}
	}()

	v, err := i.EvalWithContext(ctx, src)
	if err != nil {
		return out.String(), "", err
	}
	if v.IsValid() && v.CanInterface() {
		if x := v.Interface(); x != nil {
			value = fmt.Sprint(x)
		}
	}
	return out.String(), value, nil
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n... [output truncated]"
	}
	return b.buf.String()
}
