package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
)

// transition computes a patch against the live state and applies it. A
// rejected transition is reported on the bus and returned.
func (o *Orchestrator) transition(ctx context.Context, action string, build func(state.AgentState) (state.Patch, error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isStarted() {
		return ErrNotStarted
	}
	identity := o.Identity()
	patch, err := build(o.State())
	if err != nil {
		o.logger.Warn().Err(err).Str("action", action).Msg("State transition rejected")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelWarn, err.Error(), map[string]any{"action": action}))
		return err
	}
	_, err = o.applyPatch(ctx, identity, patch)
	return err
}

// AcceptGoal activates a proposed goal.
func (o *Orchestrator) AcceptGoal(ctx context.Context, goalID string) error {
	return o.transition(ctx, "goal.accept", func(s state.AgentState) (state.Patch, error) {
		return state.SetGoalStatus(s, goalID, true)
	})
}

// RejectGoal rejects a proposed goal.
func (o *Orchestrator) RejectGoal(ctx context.Context, goalID string) error {
	return o.transition(ctx, "goal.reject", func(s state.AgentState) (state.Patch, error) {
		return state.SetGoalStatus(s, goalID, false)
	})
}

// AcceptProposal accepts a pending code or UI proposal.
func (o *Orchestrator) AcceptProposal(ctx context.Context, kind state.ProposalKind, id string) error {
	return o.transition(ctx, "proposal.accept", func(s state.AgentState) (state.Patch, error) {
		return state.SetProposalStatus(s, kind, id, true)
	})
}

// RejectProposal rejects a pending code or UI proposal.
func (o *Orchestrator) RejectProposal(ctx context.Context, kind state.ProposalKind, id string) error {
	return o.transition(ctx, "proposal.reject", func(s state.AgentState) (state.Patch, error) {
		return state.SetProposalStatus(s, kind, id, false)
	})
}

// ForceSync saves the live state now. Observers see a transient Syncing
// status followed by the derived continuity record.
func (o *Orchestrator) ForceSync(ctx context.Context) (store.SaveOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isStarted() {
		return store.SaveOutcome{}, ErrNotStarted
	}
	identity := o.Identity()
	current := o.State()

	o.bus.Publish(bus.PatchEvent(identity, state.Patch{
		"continuityState": map[string]any{"cloudStatus": string(state.CloudSyncing)},
	}))

	outcome := o.store.Save(ctx, identity, current)
	current.ContinuityState = outcome.Continuity(current.ContinuityState)
	o.setState(identity, current)

	continuity, err := state.NormalizePatch(state.Patch{"continuityState": current.ContinuityState})
	if err != nil {
		return outcome, err
	}
	o.bus.Publish(bus.PatchEvent(identity, continuity))

	level := bus.LevelInfo
	if outcome.Tier == store.TierError {
		level = bus.LevelError
	} else if outcome.RemoteErr != nil {
		level = bus.LevelWarn
	}
	o.bus.Publish(bus.LogEvent(identity, level, fmt.Sprintf("Sync finished on the %s tier", outcome.Tier),
		map[string]any{"tier": string(outcome.Tier), "cloudStatus": string(current.ContinuityState.CloudStatus)},
	))
	return outcome, nil
}

// VerifyRemote compares the remote copy with the live state and reports the
// verdict on the bus.
func (o *Orchestrator) VerifyRemote(ctx context.Context) (store.Verification, error) {
	identity := o.Identity()
	v, err := o.store.VerifyRemote(ctx, identity, o.State())
	if err != nil {
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Remote verification failed", map[string]any{"error": err.Error()}))
		return v, err
	}

	level := bus.LevelInfo
	if !v.Found || !v.InSync {
		level = bus.LevelWarn
	}
	o.bus.Publish(bus.LogEvent(identity, level, v.Detail, map[string]any{
		"found":  v.Found,
		"inSync": v.InSync,
	}))
	return v, nil
}

// LoadMoreHistory publishes the page of messages older than before.
func (o *Orchestrator) LoadMoreHistory(ctx context.Context, before int64, limit int) (session.Page, error) {
	identity := o.Identity()
	page, err := o.sessions.Page(ctx, identity, before, limit)
	if err != nil {
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Failed to load history", map[string]any{"error": err.Error()}))
		return session.Page{}, err
	}
	o.bus.Publish(bus.Event{Kind: bus.KindHistoryPage, Identity: identity, Data: page})
	return page, nil
}

// SwitchIdentity loads another identity's session in place of the current
// one. The previous identity's data stays in storage.
func (o *Orchestrator) SwitchIdentity(ctx context.Context, identity string) error {
	if err := session.ValidateIdentity(identity); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, identity)
}

// Restore replaces the live state and history with snap, persists both and
// broadcasts a full replace.
func (o *Orchestrator) Restore(ctx context.Context, snap snapshot.Snapshot) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isStarted() {
		return ErrNotStarted
	}
	identity := o.Identity()
	st := snap.State
	st.Normalize()

	if err := o.sessions.Replace(ctx, identity, snap.Messages); err != nil {
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Failed to restore history", map[string]any{"error": err.Error()}))
		return fmt.Errorf("failed to restore history: %w", err)
	}

	outcome := o.store.Save(ctx, identity, st)
	st.ContinuityState = outcome.Continuity(st.ContinuityState)
	o.setState(identity, st)

	o.bus.Publish(bus.ReplaceEvent(identity, st))
	o.reportSave(identity, outcome)
	o.bus.Publish(bus.LogEvent(identity, bus.LevelInfo, "Snapshot restored", map[string]any{
		"messages": len(snap.Messages),
	}))
	if outcome.Tier == store.TierError {
		return errors.New("snapshot restored but could not be saved")
	}
	return nil
}
