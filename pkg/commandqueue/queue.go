package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrQueueClosed is returned for tasks submitted to, or still queued in, a
// closed queue.
var ErrQueueClosed = errors.New("command queue closed")

// ErrLaneCleared is returned for queued tasks dropped by ClearLane.
var ErrLaneCleared = errors.New("lane cleared")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (any, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// RequestID makes a submission idempotent: a repeated ID within the
	// dedup window returns the first result without running again.
	RequestID string
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config configures a CommandQueue.
type Config struct {
	Logger   zerolog.Logger
	DedupTTL time.Duration
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	name       string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	pending    *Pending
}

type taskResult struct {
	value any
	err   error
}

// Pending is the handle of a submitted task.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result taskResult
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r taskResult) {
	p.once.Do(func() {
		p.result = r
		close(p.done)
	})
}

// Done is closed once the task has finished or was rejected.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the task finishes or ctx is done. Abandoning the wait
// does not cancel the task.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result.value, p.result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	logger    zerolog.Logger
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	dedup     *dedupCache
}

// New creates a CommandQueue. Lanes are created on first use with
// concurrency 1.
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		logger: cfg.Logger,
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, cfg.DedupTTL),
	}
}

// lane returns the lane, creating it when missing.
func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, exists := cq.lanes[name]
	cq.mu.RUnlock()
	if exists {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, exists = cq.lanes[name]; !exists {
		ls = &laneState{concurrency: 1}
		cq.lanes[name] = ls
		cq.logger.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls
}

// Enqueue submits a task and waits for its result.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane, name string, task Task, options *TaskOptions) (any, error) {
	return cq.Submit(ctx, lane, name, task, options).Wait(ctx)
}

// Submit appends a task to lane and returns without waiting. Tasks
// submitted to one lane from one goroutine run in submission order.
func (cq *CommandQueue) Submit(ctx context.Context, lane, name string, task Task, options *TaskOptions) *Pending {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}
	pending := newPending()

	if opts.RequestID != "" {
		if cached, ok := cq.dedup.Get(opts.RequestID); ok {
			pending.resolve(cached)
			return pending
		}
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		pending.resolve(taskResult{err: ErrQueueClosed})
		return pending
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		name:       name,
		task:       task,
		ctx:        context.WithoutCancel(ctx),
		enqueuedAt: time.Now(),
		options:    opts,
		pending:    pending,
	}

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, cq.logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Str("task", name).
		Int("queueSize", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	cq.processLane(lane)
	return pending
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "luminous.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
		attribute.String("task", record.name),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, cq.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)
	stopCancel()
	cancel()

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	result := taskResult{value: value, err: err}
	if record.options.RequestID != "" {
		cq.dedup.Set(record.options.RequestID, result)
	}
	record.pending.resolve(result)

	if err != nil {
		tracing.Fail(span, err)
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Str("task", record.name).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Str("task", record.name).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	cq.processLane(lane)
}

// runTask converts a panicking task into an error so the lane keeps going.
func runTask(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane)
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			cq.logger.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-record.pending.Done():
	case <-cq.ctx.Done():
	}
}

// Stats reports queued and running counts for lane.
func (cq *CommandQueue) Stats(lane string) (queued, running int) {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0, 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue), ls.running
}

// ClearLane rejects all queued, not yet running, tasks of lane.
func (cq *CommandQueue) ClearLane(lane string) int {
	ls := cq.lane(lane)
	ls.mu.Lock()
	dropped := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, record := range dropped {
		record.pending.resolve(taskResult{err: ErrLaneCleared})
	}
	cq.logger.Info().Str("lane", lane).Int("cleared", len(dropped)).Msg("Lane cleared")
	return len(dropped)
}

// SetConcurrency updates the concurrency limit for a lane
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane)
	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	cq.logger.Info().
		Str("lane", lane).
		Int("oldMax", oldMax).
		Int("newMax", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > oldMax {
		cq.processLane(lane)
	}
}

// Close rejects queued tasks, cancels running ones and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]*laneState, 0, len(cq.lanes))
	for _, ls := range cq.lanes {
		lanes = append(lanes, ls)
	}
	cq.mu.Unlock()

	for _, ls := range lanes {
		ls.mu.Lock()
		dropped := ls.queue
		ls.queue = nil
		ls.mu.Unlock()
		for _, record := range dropped {
			record.pending.resolve(taskResult{err: ErrQueueClosed})
		}
	}

	cq.cancel()
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}
