// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in submission order.
// - A lane runs at most its concurrency limit of tasks at once (default 1).
// - Tasks in different lanes may execute concurrently.
// - A panicking task fails with an error; the lane keeps draining.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "agent", "chat.send", func(ctx context.Context) (any, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
