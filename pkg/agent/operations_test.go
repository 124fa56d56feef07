package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposeGoal(id string) toolexecutor.Handler {
	return func(_ context.Context, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
		goals := append([]state.Goal(nil), inv.State.Goals...)
		goals = append(goals, state.Goal{ID: id, Description: "learn go", Status: state.GoalProposed, Steps: []state.ActionableStep{}})
		return toolexecutor.Output{Result: "proposed", Patch: state.Patch{"goals": goals}}, nil
	}
}

func TestOrchestrator_Goals(t *testing.T) {
	ctx := context.Background()

	newGoalHarness := func(t *testing.T) *harness {
		model := &scriptedModel{responses: []ModelResponse{
			toolCalls(toolexecutor.Call{Name: "propose"}),
			final("I proposed a goal."),
		}}
		h := newHarness(t, model, tool("propose", proposeGoal("g1")))
		h.orch.RunTurn(ctx, "suggest a goal")
		require.Equal(t, state.GoalProposed, h.orch.State().Goals[0].Status)
		return h
	}

	t.Run("should accept a proposed goal", func(t *testing.T) {
		h := newGoalHarness(t)

		require.NoError(t, h.orch.AcceptGoal(ctx, "g1"))

		assert.Equal(t, state.GoalActive, h.orch.State().Goals[0].Status)
		persisted, _ := h.store.Load(ctx, "alice")
		assert.Equal(t, state.GoalActive, persisted.Goals[0].Status)
	})

	t.Run("should reject a proposed goal", func(t *testing.T) {
		h := newGoalHarness(t)

		require.NoError(t, h.orch.RejectGoal(ctx, "g1"))

		assert.Equal(t, state.GoalRejected, h.orch.State().Goals[0].Status)
	})

	t.Run("should refuse a second transition and report it", func(t *testing.T) {
		h := newGoalHarness(t)
		require.NoError(t, h.orch.AcceptGoal(ctx, "g1"))

		err := h.orch.RejectGoal(ctx, "g1")
		h.drain(t)

		assert.ErrorIs(t, err, state.ErrInvalidTransition)
		assert.Equal(t, state.GoalActive, h.orch.State().Goals[0].Status)
		assert.NotEmpty(t, h.events.logs(bus.LevelWarn))
	})

	t.Run("should fail for an unknown goal", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{})
		assert.ErrorIs(t, h.orch.AcceptGoal(ctx, "nope"), state.ErrGoalNotFound)
	})
}

func TestOrchestrator_Proposals(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{responses: []ModelResponse{
		toolCalls(toolexecutor.Call{Name: "propose_code"}),
		final("proposed"),
	}}
	h := newHarness(t, model, tool("propose_code", func(context.Context, toolexecutor.Invocation) (toolexecutor.Output, error) {
		return toolexecutor.Output{Patch: state.Patch{"codeProposals": []state.CodeProposal{
			{ID: "p1", Description: "refactor", Code: "package x", Status: state.ProposalPending},
			{ID: "p2", Description: "rename", Code: "package y", Status: state.ProposalPending},
		}}}, nil
	}))
	h.orch.RunTurn(ctx, "improve yourself")

	require.NoError(t, h.orch.AcceptProposal(ctx, state.ProposalCode, "p1"))
	require.NoError(t, h.orch.RejectProposal(ctx, state.ProposalCode, "p2"))

	proposals := h.orch.State().CodeProposals
	assert.Equal(t, state.ProposalAccepted, proposals[0].Status)
	assert.Equal(t, state.ProposalRejected, proposals[1].Status)
}

func TestOrchestrator_ForceSync(t *testing.T) {
	ctx := context.Background()

	t.Run("should broadcast syncing then the saved status", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{})
		h.drain(t)

		outcome, err := h.orch.ForceSync(ctx)
		require.NoError(t, err)
		h.drain(t)

		assert.Equal(t, store.TierRemote, outcome.Tier)
		patches := h.events.ofKind(bus.KindStatePatch)
		require.Len(t, patches, 2)
		first := patches[0].Patch["continuityState"].(map[string]any)
		second := patches[1].Patch["continuityState"].(map[string]any)
		assert.Equal(t, "Syncing", first["cloudStatus"])
		assert.Equal(t, "OK", second["cloudStatus"])
		assert.Equal(t, state.CloudOK, h.orch.State().ContinuityState.CloudStatus)
	})

	t.Run("should fall back to local when the remote fails", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{})
		h.remote.mu.Lock()
		h.remote.fail = errors.New("unreachable")
		h.remote.mu.Unlock()

		outcome, err := h.orch.ForceSync(ctx)
		require.NoError(t, err)
		h.drain(t)

		assert.Equal(t, store.TierLocal, outcome.Tier)
		assert.Equal(t, state.CloudError, h.orch.State().ContinuityState.CloudStatus)
		assert.NotEmpty(t, h.events.logs(bus.LevelWarn))
	})
}

func TestOrchestrator_VerifyRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &scriptedModel{})

	v, err := h.orch.VerifyRemote(ctx)
	require.NoError(t, err)
	h.drain(t)

	assert.True(t, v.Found)
	assert.True(t, v.InSync)
	assert.NotEmpty(t, h.events.logs(bus.LevelInfo))
}

func TestOrchestrator_LoadMoreHistory(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{fallback: &ModelResponse{Kind: ResponseFinal, Text: "pong"}}
	h := newHarness(t, model)
	for i := 0; i < 3; i++ {
		h.orch.RunTurn(ctx, "ping")
	}

	page, err := h.orch.LoadMoreHistory(ctx, 0, 4)
	require.NoError(t, err)
	h.drain(t)

	assert.Len(t, page.Messages, 4)
	assert.True(t, page.HasOlder)
	pages := h.events.ofKind(bus.KindHistoryPage)
	require.Len(t, pages, 1)
	assert.Equal(t, page, pages[0].Data.(session.Page))

	older, err := h.orch.LoadMoreHistory(ctx, page.Before, 4)
	require.NoError(t, err)
	assert.Len(t, older.Messages, 2)
	assert.False(t, older.HasOlder)
}

func TestOrchestrator_SwitchIdentity(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{responses: []ModelResponse{
		toolCalls(toolexecutor.Call{Name: "propose"}),
		final("done"),
	}}
	h := newHarness(t, model, tool("propose", proposeGoal("g1")))
	h.orch.RunTurn(ctx, "suggest a goal")

	require.NoError(t, h.orch.SwitchIdentity(ctx, "bob"))
	assert.Equal(t, "bob", h.orch.Identity())
	assert.Empty(t, h.orch.State().Goals)

	require.NoError(t, h.orch.SwitchIdentity(ctx, "alice"))
	assert.Len(t, h.orch.State().Goals, 1)

	assert.Error(t, h.orch.SwitchIdentity(ctx, "a/b"))
	assert.Equal(t, "alice", h.orch.Identity())
}

func TestOrchestrator_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{responses: []ModelResponse{
		toolCalls(toolexecutor.Call{Name: "propose"}),
		final("proposed"),
	}}
	h := newHarness(t, model, tool("propose", proposeGoal("g1")))
	h.orch.RunTurn(ctx, "suggest a goal")

	data, err := h.orch.Snapshot(ctx)
	require.NoError(t, err)
	snap, err := snapshot.Detect(data)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)

	require.NoError(t, h.orch.RejectGoal(ctx, "g1"))
	require.NoError(t, h.orch.Restore(ctx, snap))
	h.drain(t)

	assert.Equal(t, state.GoalProposed, h.orch.State().Goals[0].Status)
	msgs, err := h.sessions.All(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	replaces := h.events.ofKind(bus.KindStateReplace)
	last := replaces[len(replaces)-1]
	assert.Equal(t, state.GoalProposed, last.State.Goals[0].Status)
}
