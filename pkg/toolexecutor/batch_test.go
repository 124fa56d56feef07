package toolexecutor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_ExecuteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should run calls concurrently and keep call order", func(t *testing.T) {
		e := newTestExecutor(t)
		var running, peak atomic.Int32
		require.NoError(t, e.Register(ToolDefinition{
			Name: "session", Description: "Sets the session state",
			Parameters: []ToolParameter{
				{Name: "value", Type: "string", Description: "New state", Required: true},
				{Name: "delay", Type: "integer", Description: "Milliseconds to wait"},
			},
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				defer running.Add(-1)
				if d, ok := inv.Call.Args["delay"].(int); ok {
					time.Sleep(time.Duration(d) * time.Millisecond)
				}
				v := inv.Call.Args["value"].(string)
				return Output{Result: v, Patch: state.Patch{"sessionState": v}}, nil
			},
		}))

		results := e.ExecuteBatch(ctx, "alice", []Call{
			{ID: "1", Name: "session", Args: map[string]any{"value": "active", "delay": 40}},
			{ID: "2", Name: "session", Args: map[string]any{"value": "paused", "delay": 5}},
		}, state.Default())

		require.Len(t, results, 2)
		assert.Equal(t, "1", results[0].CallID)
		assert.Equal(t, "2", results[1].CallID)
		assert.Equal(t, int32(2), peak.Load())

		folded := FoldPatches(results)
		assert.Equal(t, "paused", folded["sessionState"])
	})

	t.Run("should return an empty slice for no calls", func(t *testing.T) {
		e := newTestExecutor(t)
		assert.Empty(t, e.ExecuteBatch(ctx, "alice", nil, state.Default()))
	})

	t.Run("should give each call its own snapshot", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "mutate", Description: "Mutates its snapshot",
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				inv.State.SelfModel.Description = "changed"
				return Output{Result: "ok"}, nil
			},
		}))
		snapshot := state.Default()

		e.ExecuteBatch(ctx, "alice", []Call{{Name: "mutate"}, {Name: "mutate"}}, snapshot)

		assert.NotEqual(t, "changed", snapshot.SelfModel.Description)
	})

	t.Run("should run mutating calls in order on the accumulated state", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "add_goal", Description: "Appends a goal",
			Parameters: []ToolParameter{
				{Name: "id", Type: "string", Description: "Goal id", Required: true},
			},
			Mutates: true,
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				goal := state.Goal{ID: inv.Call.Args["id"].(string), Status: state.GoalProposed, Steps: []state.ActionableStep{}}
				goals := append(append([]state.Goal{}, inv.State.Goals...), goal)
				return Output{Result: len(goals), Patch: state.Patch{"goals": goals}}, nil
			},
		}))

		results := e.ExecuteBatch(ctx, "alice", []Call{
			{ID: "1", Name: "add_goal", Args: map[string]any{"id": "g1"}},
			{ID: "2", Name: "add_goal", Args: map[string]any{"id": "g2"}},
			{ID: "3", Name: "add_goal", Args: map[string]any{"id": "g3"}},
		}, state.Default())

		assert.Equal(t, 1, results[0].Output)
		assert.Equal(t, 2, results[1].Output)
		assert.Equal(t, 3, results[2].Output)

		st, _, err := state.Apply(state.Default(), FoldPatches(results))
		require.NoError(t, err)
		require.Len(t, st.Goals, 3)
		assert.Equal(t, "g1", st.Goals[0].ID)
		assert.Equal(t, "g2", st.Goals[1].ID)
		assert.Equal(t, "g3", st.Goals[2].ID)
	})

	t.Run("should fail a mutating call whose patch does not fit the state", func(t *testing.T) {
		e := newTestExecutor(t)
		require.NoError(t, e.Register(ToolDefinition{
			Name: "broken", Description: "Returns a mistyped patch", Mutates: true,
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Result: "ok", Patch: state.Patch{"sessionState": 42}}, nil
			},
		}))
		require.NoError(t, e.Register(ToolDefinition{
			Name: "pause", Description: "Pauses the session", Mutates: true,
			Handler: func(ctx context.Context, inv Invocation) (Output, error) {
				return Output{Result: string(inv.State.SessionState), Patch: state.Patch{"sessionState": "paused"}}, nil
			},
		}))

		results := e.ExecuteBatch(ctx, "alice", []Call{{ID: "1", Name: "broken"}, {ID: "2", Name: "pause"}}, state.Default())

		require.NotNil(t, results[0].Error)
		assert.Empty(t, results[0].Patch)
		assert.Equal(t, "1", results[0].CallID)
		require.Nil(t, results[1].Error)
		assert.Equal(t, string(state.Default().SessionState), results[1].Output)
		assert.Equal(t, "paused", FoldPatches(results)["sessionState"])
	})
}

func TestFoldPatches(t *testing.T) {
	t.Run("should skip failed results and merge in order", func(t *testing.T) {
		results := []Result{
			{Patch: state.Patch{"selfModel": map[string]any{"description": "a"}}},
			{Error: &ToolError{Message: "x"}, Patch: state.Patch{"sessionState": "error"}},
			{Patch: state.Patch{"selfModel": map[string]any{"coreWisdom": []any{"b"}}}},
		}

		folded := FoldPatches(results)

		assert.Equal(t, state.Patch{
			"selfModel": map[string]any{"description": "a", "coreWisdom": []any{"b"}},
		}, folded)
	})
}
