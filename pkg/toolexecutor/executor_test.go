package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name  string `json:"name"`
	Times int    `json:"times"`
}

func (greetArgs) ToolName() string { return "greet" }

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return New(Config{Logger: zerolog.Nop(), Timeout: time.Second})
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo input",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, inv Invocation) (Output, error) {
			return Output{Result: inv.Call.Args["text"]}, nil
		},
	}
}

func TestExecutor_Register(t *testing.T) {
	t.Run("should register and describe a tool", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(echoTool()))

		assert.NotNil(t, e.Get("echo"))
		assert.Equal(t, []string{"echo"}, e.Names())

		catalog := e.Catalog()
		require.Len(t, catalog, 1)
		assert.Equal(t, "object", catalog[0].Parameters["type"])
		assert.Equal(t, []string{"text"}, catalog[0].Parameters["required"])
	})

	t.Run("should reject duplicates", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(echoTool()))
		assert.Error(t, e.Register(echoTool()))
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		handler := func(ctx context.Context, inv Invocation) (Output, error) { return Output{}, nil }
		tests := []struct {
			name string
			def  ToolDefinition
		}{
			{name: "empty name", def: ToolDefinition{Description: "d", Handler: handler}},
			{name: "empty description", def: ToolDefinition{Name: "x", Handler: handler}},
			{name: "nil handler", def: ToolDefinition{Name: "x", Description: "d"}},
			{name: "bad parameter type", def: ToolDefinition{Name: "x", Description: "d", Handler: handler,
				Parameters: []ToolParameter{{Name: "p", Type: "date", Description: "p"}}}},
		}
		e := newTestExecutor(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Error(t, e.Register(tt.def))
			})
		}
	})

	t.Run("should unregister", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(echoTool()))
		e.Unregister("echo")
		assert.Nil(t, e.Get("echo"))
	})
}

func TestExecutor_Execute(t *testing.T) {
	ctx := context.Background()
	snapshot := state.Default()

	t.Run("should return the handler result", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(echoTool()))

		res := e.Execute(ctx, "alice", Call{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}}, snapshot)

		assert.False(t, res.Failed())
		assert.Equal(t, "hi", res.Output)
		assert.Equal(t, "c1", res.CallID)
		assert.Equal(t, map[string]any{"result": "hi"}, res.Payload())
	})

	t.Run("should return UnknownTool for unregistered names", func(t *testing.T) {
		e := newTestExecutor(t)

		res := e.Execute(ctx, "alice", Call{Name: "nope", Args: map[string]any{"a": 1}}, snapshot)

		require.True(t, res.Failed())
		assert.Equal(t, CodeUnknownTool, res.Error.Code)
		assert.Contains(t, res.Error.Message, ErrUnknownTool.Error())
		assert.Equal(t, map[string]any{"a": 1}, res.Error.RequestArgs)
	})

	t.Run("should reject arguments that violate the schema", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(echoTool()))

		res := e.Execute(ctx, "alice", Call{Name: "echo", Args: map[string]any{"text": 5}}, snapshot)

		require.True(t, res.Failed())
		assert.Equal(t, CodeInvalidArgs, res.Error.Code)
		assert.NotEmpty(t, res.Error.Suggestion)

		res = e.Execute(ctx, "alice", Call{Name: "echo"}, snapshot)
		require.True(t, res.Failed())
		assert.Equal(t, map[string]any{}, res.Error.RequestArgs)
	})

	t.Run("should convert handler errors into error results", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "fail", Description: "Always fails",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Patch: state.Patch{"sessionState": "error"}}, errors.New("boom")
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "fail"}, snapshot)

		require.True(t, res.Failed())
		assert.Equal(t, "boom", res.Error.Message)
		assert.Equal(t, CodeExecutionFailed, res.Error.Code)
		assert.Nil(t, res.Patch)
	})

	t.Run("should keep structured tool errors", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "picky", Description: "Fails with a hint",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{}, NewToolError("goal not found", "Call get_state to list goals.")
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "picky"}, snapshot)

		require.True(t, res.Failed())
		assert.Equal(t, "Call get_state to list goals.", res.Error.Suggestion)
	})

	t.Run("should recover handler panics", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "panic", Description: "Panics",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				panic("unexpected")
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "panic"}, snapshot)

		require.True(t, res.Failed())
		assert.Contains(t, res.Error.Message, "panicked")
	})

	t.Run("should time out slow handlers", func(t *testing.T) {
		e := New(Config{Logger: zerolog.Nop(), Timeout: 20 * time.Millisecond})
		require.NoError(t, e.Register(ToolDefinition{
			Name: "slow", Description: "Sleeps",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return Output{Result: "late"}, nil
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "slow"}, snapshot)

		require.True(t, res.Failed())
		assert.Equal(t, CodeTimeout, res.Error.Code)
	})

	t.Run("should normalize typed patches", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "goal", Description: "Adds a goal",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				goals := append(inv.State.Goals, state.Goal{ID: "g1", Description: "d", Status: state.GoalProposed, Steps: []state.ActionableStep{}})
				return Output{Result: "ok", Patch: state.Patch{"goals": goals}}, nil
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "goal"}, snapshot)

		require.False(t, res.Failed())
		goals, ok := res.Patch["goals"].([]any)
		require.True(t, ok)
		assert.Len(t, goals, 1)
		assert.Empty(t, snapshot.Goals)
	})

	t.Run("should truncate oversized output", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "big", Description: "Large output",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Result: strings.Repeat("x", MaxOutputBytes+10)}, nil
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "big"}, snapshot)

		assert.True(t, res.Truncated)
		assert.Contains(t, res.Output, "[output truncated]")
	})

	t.Run("should not split a multi-byte rune when truncating", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "wide", Description: "Multi-byte output",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Result: "x" + strings.Repeat("é", MaxOutputBytes)}, nil
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "wide"}, snapshot)

		require.True(t, res.Truncated)
		text, ok := res.Output.(string)
		require.True(t, ok)
		assert.True(t, utf8.ValidString(text))
	})

	t.Run("should pass the identity through", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "whoami", Description: "Returns identity",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Result: inv.Identity}, nil
			},
		}))

		res := e.Execute(ctx, "alice", Call{Name: "whoami"}, snapshot)
		assert.Equal(t, "alice", res.Output)
	})
}

func TestExecutor_TypedArgs(t *testing.T) {
	ctx := context.Background()
	greet := ToolDefinition{
		Name:        "greet",
		Description: "Greets someone",
		Parameters: []ToolParameter{
			{Name: "name", Type: "string", Description: "Who", Required: true},
			{Name: "times", Type: "integer", Description: "How often"},
		},
		Args: func() Args { return &greetArgs{Times: 1} },
		Handler: Typed(func(ctx context.Context, args *greetArgs, inv Invocation) (Output, error) {
			return Output{Result: strings.Repeat("hi "+args.Name+" ", args.Times)}, nil
		}),
	}

	t.Run("should decode arguments into the registered struct", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(greet))

		res := e.Execute(ctx, "alice", Call{Name: "greet", Args: map[string]any{"name": "bob", "times": float64(2)}}, state.Default())

		require.False(t, res.Failed())
		assert.Equal(t, "hi bob hi bob ", res.Output)
	})

	t.Run("should apply struct defaults for missing arguments", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(greet))

		res := e.Execute(ctx, "alice", Call{Name: "greet", Args: map[string]any{"name": "bob"}}, state.Default())

		assert.Equal(t, "hi bob ", res.Output)
	})

	t.Run("should fall back to generic arguments", func(t *testing.T) {
		args, err := DecodeArgs("custom", nil, map[string]any{"a": 1})
		require.NoError(t, err)
		generic, ok := args.(GenericArgs)
		require.True(t, ok)
		assert.Equal(t, "custom", generic.ToolName())
		assert.Equal(t, 1, generic.Values["a"])
	})

	t.Run("should fail typed handlers given the wrong arguments", func(t *testing.T) {
		e := newTestExecutor(t)
		def := greet
		def.Args = nil
		require.NoError(t, e.Register(def))

		res := e.Execute(ctx, "alice", Call{Name: "greet", Args: map[string]any{"name": "bob"}}, state.Default())

		require.True(t, res.Failed())
		assert.Contains(t, res.Error.Message, "GenericArgs")
	})
}
