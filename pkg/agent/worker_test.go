package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kskip310/luminous/pkg/commandqueue"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedModel blocks each invocation until released.
type gatedModel struct {
	mu      sync.Mutex
	gate    chan struct{}
	entered chan string
	active  int
	peak    int
}

func (m *gatedModel) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	m.mu.Lock()
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	m.mu.Unlock()

	last := req.History[len(req.History)-1].Text
	m.entered <- last
	<-m.gate

	m.mu.Lock()
	m.active--
	m.mu.Unlock()
	return final("re: " + last), nil
}

func (m *gatedModel) Provider() string { return "gated" }

func newTestWorker(t *testing.T, model *scriptedModel) (*Worker, *harness) {
	t.Helper()
	h := newHarness(t, model)
	queue := commandqueue.New(commandqueue.Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { queue.Close() })
	return NewWorker(h.orch, queue, zerolog.Nop()), h
}

func TestWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("should run a turn and return its outcome", func(t *testing.T) {
		w, _ := newTestWorker(t, &scriptedModel{responses: []ModelResponse{final("hi there")}})

		res, err := w.Do(ctx, SendMessage("hello"))
		require.NoError(t, err)

		out := res.(TurnOutcome)
		assert.Equal(t, PhaseIdle, out.Phase)
		assert.Equal(t, "hi there", out.Reply.Text)
	})

	t.Run("should queue a message sent during a turn as the next turn", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{})
		gated := &gatedModel{gate: make(chan struct{}), entered: make(chan string, 4)}
		h.orch.model = gated
		queue := commandqueue.New(commandqueue.Config{Logger: zerolog.Nop()})
		t.Cleanup(func() { queue.Close() })
		w := NewWorker(h.orch, queue, zerolog.Nop())

		first := w.Submit(ctx, SendMessage("one"))
		assert.Equal(t, "one", <-gated.entered)
		second := w.Submit(ctx, SendMessage("two"))

		select {
		case text := <-gated.entered:
			t.Fatalf("second turn started early with %q", text)
		case <-time.After(50 * time.Millisecond):
		}

		gated.gate <- struct{}{}
		assert.Equal(t, "two", <-gated.entered)
		gated.gate <- struct{}{}

		_, err := first.Wait(ctx)
		require.NoError(t, err)
		res, err := second.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, "re: two", res.(TurnOutcome).Reply.Text)
		assert.Equal(t, 1, gated.peak)

		msgs, err := h.sessions.All(ctx, "alice")
		require.NoError(t, err)
		senders := make([]state.Sender, len(msgs))
		for i, m := range msgs {
			senders[i] = m.Sender
		}
		assert.Equal(t, []state.Sender{state.SenderUser, state.SenderAgent, state.SenderUser, state.SenderAgent}, senders)
	})

	t.Run("should route ui commands", func(t *testing.T) {
		model := &scriptedModel{fallback: &ModelResponse{Kind: ResponseFinal, Text: "ok"}}
		w, _ := newTestWorker(t, model)
		_, err := w.Do(ctx, SendMessage("hello"))
		require.NoError(t, err)

		res, err := w.Do(ctx, ForceSync())
		require.NoError(t, err)
		assert.Equal(t, store.TierRemote, res.(store.SaveOutcome).Tier)

		res, err = w.Do(ctx, VerifyRemote())
		require.NoError(t, err)
		assert.True(t, res.(store.Verification).InSync)

		res, err = w.Do(ctx, LoadMoreHistory(0, 10))
		require.NoError(t, err)
		assert.Len(t, res.(session.Page).Messages, 2)

		_, err = w.Do(ctx, AcceptGoal("missing"))
		assert.ErrorIs(t, err, state.ErrGoalNotFound)

		res, err = w.Do(ctx, ExportSnapshot())
		require.NoError(t, err)
		assert.NotEmpty(t, res.([]byte))

		_, err = w.Do(ctx, SwitchIdentity("bob"))
		require.NoError(t, err)
		assert.Equal(t, "bob", w.Orchestrator().Identity())
	})

	t.Run("should deduplicate a resubmitted request", func(t *testing.T) {
		model := &scriptedModel{fallback: &ModelResponse{Kind: ResponseFinal, Text: "ok"}}
		w, _ := newTestWorker(t, model)

		cmd := SendMessage("once")
		cmd.RequestID = "req-42"
		_, err := w.Do(ctx, cmd)
		require.NoError(t, err)
		_, err = w.Do(ctx, cmd)
		require.NoError(t, err)

		assert.Equal(t, 1, model.invocations())
	})
	t.Run("should resync and report a missed remote tier", func(t *testing.T) {
		w, h := newTestWorker(t, &scriptedModel{})

		require.NoError(t, w.Sync(ctx))
		assert.Equal(t, state.CloudOK, w.CloudStatus())

		h.remote.mu.Lock()
		h.remote.fail = errConnRefused
		h.remote.mu.Unlock()

		assert.Error(t, w.Sync(ctx))
		assert.Equal(t, state.CloudError, w.CloudStatus())
	})
}
