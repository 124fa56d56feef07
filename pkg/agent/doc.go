// Package agent runs the conversation loop between a user, a tool-calling
// model and the tool executor, and owns the agent state while doing so.
//
// Invariants:
// - The orchestrator is the only writer of the agent state; readers get copies.
// - A turn runs at most MaxLoops model/tool cycles before it is aborted.
// - All tool patches of one cycle are folded in call order and saved once.
// - Every mutation is persisted, then broadcast, before the loop continues.
// - Model, tool and storage failures end as conversation messages, never as
//   errors out of RunTurn.
//
// Usage:
//
//	orch, _ := agent.New(agent.Config{Identity: "alice", Model: model, ...})
//	_ = orch.Start(ctx)
//	worker := agent.NewWorker(orch, queue, logger)
//	out, _ := worker.Do(ctx, agent.SendMessage("What are my goals?"))
//	_ = out
package agent
