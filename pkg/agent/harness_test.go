package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays responses in order, then repeats fallback.
type scriptedModel struct {
	mu        sync.Mutex
	responses []ModelResponse
	errs      []error
	fallback  *ModelResponse
	requests  []ModelRequest
}

func (m *scriptedModel) Invoke(_ context.Context, req ModelRequest) (ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return ModelResponse{}, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	if m.fallback != nil {
		return *m.fallback, nil
	}
	return ModelResponse{Kind: ResponseEmpty}, nil
}

func (m *scriptedModel) Provider() string { return "scripted" }

func (m *scriptedModel) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func toolCalls(calls ...toolexecutor.Call) ModelResponse {
	return ModelResponse{Kind: ResponseToolCalls, ToolCalls: calls}
}

func final(text string) ModelResponse {
	return ModelResponse{Kind: ResponseFinal, Text: text}
}

// countingRemote is an in-memory remote tier counting writes.
type countingRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	fail error
}

func newCountingRemote() *countingRemote {
	return &countingRemote{data: make(map[string][]byte)}
}

func (r *countingRemote) Configured() bool { return true }

func (r *countingRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, false, r.fail
	}
	v, ok := r.data[key]
	return v, ok, nil
}

func (r *countingRemote) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sets++
	r.data[key] = append([]byte(nil), value...)
	return nil
}

func (r *countingRemote) setCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets
}

// recorder collects bus events for one subscriber.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(ev bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func (r *recorder) ofKind(kind bus.Kind) []bus.Event {
	var out []bus.Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) messagesFrom(sender state.Sender) []state.Message {
	var out []state.Message
	for _, ev := range r.ofKind(bus.KindMessageAppend) {
		if ev.Message.Sender == sender {
			out = append(out, *ev.Message)
		}
	}
	return out
}

func (r *recorder) logs(level bus.Level) []bus.LogEntry {
	var out []bus.LogEntry
	for _, ev := range r.ofKind(bus.KindLogEntry) {
		if ev.Log.Level == level {
			out = append(out, *ev.Log)
		}
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	model    *scriptedModel
	tools    *toolexecutor.Executor
	bus      *bus.Bus
	store    *store.StateStore
	sessions *session.Manager
	remote   *countingRemote
	events   *recorder
}

func newHarness(t *testing.T, model *scriptedModel, tools ...toolexecutor.ToolDefinition) *harness {
	t.Helper()
	logger := zerolog.Nop()

	local, err := store.OpenLocal(store.LocalConfig{
		Path:   filepath.Join(t.TempDir(), "luminous.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := newCountingRemote()
	st, err := store.New(store.Config{Local: local, Remote: remote, Logger: logger})
	require.NoError(t, err)

	sessions, err := session.New(session.Config{Local: local, Logger: logger})
	require.NoError(t, err)

	exec := toolexecutor.New(toolexecutor.Config{Logger: logger, Timeout: 5 * time.Second})
	for _, def := range tools {
		require.NoError(t, exec.Register(def))
	}

	b := bus.New(bus.Config{Logger: logger, Buffer: 1024})
	t.Cleanup(b.Close)
	events := &recorder{}
	b.Subscribe(events.handle)

	fast := toolexecutor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	orch, err := New(Config{
		Identity:   "alice",
		Model:      model,
		Tools:      exec,
		Store:      st,
		Sessions:   sessions,
		Bus:        b,
		Logger:     logger,
		ModelRetry: &fast,
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))

	return &harness{
		orch:     orch,
		model:    model,
		tools:    exec,
		bus:      b,
		store:    st,
		sessions: sessions,
		remote:   remote,
		events:   events,
	}
}

// drain waits until every event published so far has reached the recorder.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	marker := h.bus.Publish(bus.LogEvent("drain", bus.LevelInfo, "drain", nil))
	require.Eventually(t, func() bool {
		for _, ev := range h.events.all() {
			if ev.Seq == marker.Seq {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func tool(name string, handler toolexecutor.Handler) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        name,
		Description: "test tool " + name,
		Handler:     handler,
	}
}

func mutatingTool(name string, handler toolexecutor.Handler) toolexecutor.ToolDefinition {
	def := tool(name, handler)
	def.Mutates = true
	return def
}

var errConnRefused = errors.New("connection refused")
