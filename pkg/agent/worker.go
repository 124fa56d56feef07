package agent

import (
	"context"
	"fmt"

	"github.com/kskip310/luminous/pkg/commandqueue"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/rs/zerolog"
)

// Lane is the command queue lane owned by the worker.
const Lane = "agent"

// Command is one unit of work for the single-writer worker.
type Command struct {
	Name string
	// RequestID deduplicates resubmissions of the same request.
	RequestID string
	Run       func(ctx context.Context, o *Orchestrator) (any, error)
}

// Worker feeds commands to the orchestrator one at a time, in submission
// order. A message sent while a turn is running becomes the next turn.
type Worker struct {
	orch   *Orchestrator
	queue  *commandqueue.CommandQueue
	logger zerolog.Logger
}

// NewWorker creates a worker on queue's agent lane.
func NewWorker(orch *Orchestrator, queue *commandqueue.CommandQueue, logger zerolog.Logger) *Worker {
	queue.SetConcurrency(Lane, 1)
	return &Worker{orch: orch, queue: queue, logger: logger}
}

// Orchestrator returns the orchestrator for read-only access.
func (w *Worker) Orchestrator() *Orchestrator {
	return w.orch
}

// Submit queues cmd and returns without waiting.
func (w *Worker) Submit(ctx context.Context, cmd Command) *commandqueue.Pending {
	var opts *commandqueue.TaskOptions
	if cmd.RequestID != "" {
		opts = &commandqueue.TaskOptions{RequestID: cmd.RequestID}
	}
	w.logger.Debug().Str("command", cmd.Name).Str("request_id", cmd.RequestID).Msg("Command submitted")
	return w.queue.Submit(ctx, Lane, cmd.Name, func(ctx context.Context) (any, error) {
		return cmd.Run(ctx, w.orch)
	}, opts)
}

// Do queues cmd and waits for its result.
func (w *Worker) Do(ctx context.Context, cmd Command) (any, error) {
	return w.Submit(ctx, cmd).Wait(ctx)
}

// CloudStatus reports the live continuity status.
func (w *Worker) CloudStatus() state.CloudStatus {
	return w.orch.State().ContinuityState.CloudStatus
}

// Sync queues a force-sync and waits for it. A save that misses the remote
// tier is an error.
func (w *Worker) Sync(ctx context.Context) error {
	res, err := w.Do(ctx, ForceSync())
	if err != nil {
		return err
	}
	if out, ok := res.(store.SaveOutcome); ok && out.Tier != store.TierRemote {
		return fmt.Errorf("save landed on the %s tier: %v", out.Tier, out.RemoteErr)
	}
	return nil
}

// SendMessage runs a user turn. The result is a TurnOutcome.
func SendMessage(text string) Command {
	return Command{Name: "chat.send", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return o.RunTurn(ctx, text), nil
	}}
}

// AcceptGoal activates a proposed goal.
func AcceptGoal(goalID string) Command {
	return Command{Name: "goal.accept", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.AcceptGoal(ctx, goalID)
	}}
}

// RejectGoal rejects a proposed goal.
func RejectGoal(goalID string) Command {
	return Command{Name: "goal.reject", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.RejectGoal(ctx, goalID)
	}}
}

// AcceptProposal accepts a pending proposal.
func AcceptProposal(kind state.ProposalKind, id string) Command {
	return Command{Name: "proposal.accept", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.AcceptProposal(ctx, kind, id)
	}}
}

// RejectProposal rejects a pending proposal.
func RejectProposal(kind state.ProposalKind, id string) Command {
	return Command{Name: "proposal.reject", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.RejectProposal(ctx, kind, id)
	}}
}

// ForceSync saves the live state. The result is a store.SaveOutcome.
func ForceSync() Command {
	return Command{Name: "state.force_sync", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return o.ForceSync(ctx)
	}}
}

// VerifyRemote checks the remote copy. The result is a store.Verification.
func VerifyRemote() Command {
	return Command{Name: "state.verify_remote", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return o.VerifyRemote(ctx)
	}}
}

// LoadMoreHistory pages older messages. The result is a session.Page.
func LoadMoreHistory(before int64, limit int) Command {
	return Command{Name: "history.load_more", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return o.LoadMoreHistory(ctx, before, limit)
	}}
}

// SwitchIdentity loads another identity's session.
func SwitchIdentity(identity string) Command {
	return Command{Name: "session.switch", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.SwitchIdentity(ctx, identity)
	}}
}

// Restore replaces the session with a snapshot.
func Restore(snap snapshot.Snapshot) Command {
	return Command{Name: "snapshot.restore", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return nil, o.Restore(ctx, snap)
	}}
}

// ExportSnapshot serializes the session. The result is a []byte.
func ExportSnapshot() Command {
	return Command{Name: "snapshot.export", Run: func(ctx context.Context, o *Orchestrator) (any, error) {
		return o.Snapshot(ctx)
	}}
}
