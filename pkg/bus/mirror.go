package bus

import (
	"sync"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/rs/zerolog"
)

// Mirror is a read-only replica of the session kept up to date from bus
// events, as held by each UI instance. Patches are validated before they
// are merged so a malformed upstream patch cannot corrupt the replica.
type Mirror struct {
	logger    zerolog.Logger
	onWarning func(state.Warning)

	mu       sync.RWMutex
	identity string
	state    state.AgentState
	messages []state.Message
	lastSeq  int64
}

// NewMirror creates a mirror seeded with initial for identity. onWarning,
// when set, is called for every patch field dropped by validation.
func NewMirror(identity string, initial state.AgentState, logger zerolog.Logger, onWarning func(state.Warning)) *Mirror {
	return &Mirror{
		logger:    logger,
		onWarning: onWarning,
		identity:  identity,
		state:     initial.Clone(),
		messages:  []state.Message{},
	}
}

// Handle applies one event. It is a bus.Handler.
func (m *Mirror) Handle(ev Event) {
	var warnings []state.Warning

	m.mu.Lock()
	if ev.Kind == KindStateReplace && ev.State != nil {
		m.identity = ev.Identity
		m.state = ev.State.Clone()
		m.messages = []state.Message{}
		m.lastSeq = ev.Seq
		m.mu.Unlock()
		return
	}
	if m.identity != "" && ev.Identity != "" && ev.Identity != m.identity {
		m.mu.Unlock()
		return
	}
	if ev.Seq != 0 && ev.Seq <= m.lastSeq {
		m.logger.Warn().Int64("seq", ev.Seq).Int64("last", m.lastSeq).Msg("Out-of-order event ignored")
		m.mu.Unlock()
		return
	}
	m.lastSeq = ev.Seq

	switch ev.Kind {
	case KindStatePatch:
		next, dropped, err := state.Apply(m.state, ev.Patch)
		warnings = dropped
		if err != nil {
			m.logger.Warn().Err(err).Int64("seq", ev.Seq).Msg("Patch rejected by mirror")
			break
		}
		m.state = next
	case KindMessageAppend:
		if ev.Message != nil {
			m.messages = append(m.messages, *ev.Message)
		}
	case KindMessageChunk:
		if ev.Chunk != nil {
			m.appendChunk(*ev.Chunk)
		}
	}
	m.mu.Unlock()

	for _, w := range warnings {
		m.logger.Warn().Str("field", w.Field).Str("reason", w.Reason).Msg("Malformed patch field dropped")
		if m.onWarning != nil {
			m.onWarning(w)
		}
	}
}

func (m *Mirror) appendChunk(c MessageChunk) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ID == c.MessageID {
			m.messages[i].Text += c.Delta
			return
		}
	}
	m.messages = append(m.messages, state.Message{ID: c.MessageID, Sender: state.SenderAgent, Text: c.Delta})
}

// State returns a copy of the mirrored state.
func (m *Mirror) State() state.AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Messages returns a copy of the messages seen since the mirror started.
func (m *Mirror) Messages() []state.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]state.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Identity returns the identity the mirror follows.
func (m *Mirror) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}
