package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultPageSize is the number of messages returned per history page.
const DefaultPageSize = 50

// Page is one slice of history, most recent first.
type Page struct {
	Identity string          `json:"identity"`
	Messages []state.Message `json:"messages"`
	// Before is the cursor to pass for the next, older page.
	Before   int64 `json:"before"`
	HasOlder bool  `json:"hasOlder"`
}

// Config configures a Manager.
type Config struct {
	Local  *store.LocalStore
	Logger zerolog.Logger
	Now    func() time.Time
}

// Manager appends and pages message history on the local tier.
type Manager struct {
	local  *store.LocalStore
	logger zerolog.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	last    map[string]int64
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Local == nil {
		return nil, errors.New("local store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		local:  cfg.Local,
		logger: cfg.Logger,
		now:    now,
		locks:  make(map[string]*sync.Mutex),
		last:   make(map[string]int64),
	}, nil
}

// ValidateIdentity rejects identities that are empty or not path-safe.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if strings.Contains(identity, "..") {
		return fmt.Errorf("identity cannot contain '..'")
	}
	if strings.ContainsAny(identity, "/\\") {
		return fmt.Errorf("identity cannot contain path separators")
	}
	if strings.Contains(identity, "\x00") {
		return fmt.Errorf("identity cannot contain null bytes")
	}
	return nil
}

func (m *Manager) lockFor(identity string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[identity] = lock
	}
	return lock
}

// nextTimestamp must be called with the identity lock held.
func (m *Manager) nextTimestamp(ctx context.Context, identity string) (int64, error) {
	m.locksMu.Lock()
	last, known := m.last[identity]
	m.locksMu.Unlock()

	if !known {
		newest, err := m.local.Messages(ctx, identity, 0, 1)
		if err != nil {
			return 0, err
		}
		if len(newest) > 0 {
			last = newest[0].Timestamp
		}
	}

	ts := m.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}

	m.locksMu.Lock()
	m.last[identity] = ts
	m.locksMu.Unlock()
	return ts, nil
}

// Append stores a new message authored by sender and returns it.
func (m *Manager) Append(ctx context.Context, identity string, sender state.Sender, text string) (state.Message, error) {
	if err := ValidateIdentity(identity); err != nil {
		return state.Message{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "luminous.session", "session.append",
		attribute.String("identity", identity),
		attribute.String("sender", string(sender)),
	)
	defer span.End()

	lock := m.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	ts, err := m.nextTimestamp(ctx, identity)
	if err != nil {
		tracing.Fail(span, err)
		return state.Message{}, fmt.Errorf("failed to read history head: %w", err)
	}

	msg := state.Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
	if err := m.local.AppendMessage(ctx, identity, msg); err != nil {
		tracing.Fail(span, err)
		return state.Message{}, err
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("identity", identity).
		Str("sender", string(sender)).
		Msg("Message appended")
	return msg, nil
}

// Page returns up to limit messages older than before (zero for newest).
func (m *Manager) Page(ctx context.Context, identity string, before int64, limit int) (Page, error) {
	if err := ValidateIdentity(identity); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	msgs, err := m.local.Messages(ctx, identity, before, limit)
	if err != nil {
		return Page{}, err
	}

	page := Page{Identity: identity, Messages: msgs, Before: before}
	if len(msgs) == 0 {
		return page, nil
	}

	page.Before = msgs[len(msgs)-1].Timestamp
	older, err := m.local.CountMessages(ctx, identity, page.Before)
	if err != nil {
		return Page{}, err
	}
	page.HasOlder = older > 0
	return page, nil
}

// Recent returns the newest limit messages in chronological order.
func (m *Manager) Recent(ctx context.Context, identity string, limit int) ([]state.Message, error) {
	page, err := m.Page(ctx, identity, 0, limit)
	if err != nil {
		return nil, err
	}
	return chronological(page.Messages), nil
}

// All returns the whole history in chronological order.
func (m *Manager) All(ctx context.Context, identity string) ([]state.Message, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	total, err := m.local.CountMessages(ctx, identity, 0)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []state.Message{}, nil
	}
	msgs, err := m.local.Messages(ctx, identity, 0, total)
	if err != nil {
		return nil, err
	}
	return chronological(msgs), nil
}

// Replace swaps identity's history, as done by a snapshot restore. Messages
// with an empty or repeated id get a fresh one, and timestamps are bumped
// where needed so they strictly increase in the given order.
func (m *Manager) Replace(ctx context.Context, identity string, msgs []state.Message) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}

	lock := m.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	if err := m.local.ReplaceMessages(ctx, identity, sanitizeHistory(msgs)); err != nil {
		return err
	}

	m.locksMu.Lock()
	delete(m.last, identity)
	m.locksMu.Unlock()

	m.logger.Info().Str("identity", identity).Int("messages", len(msgs)).Msg("History replaced")
	return nil
}

func chronological(msgs []state.Message) []state.Message {
	out := make([]state.Message, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = msg
	}
	return out
}

func sanitizeHistory(msgs []state.Message) []state.Message {
	out := make([]state.Message, len(msgs))
	seen := make(map[string]bool, len(msgs))
	var last int64
	for i, msg := range msgs {
		if msg.ID == "" || seen[msg.ID] {
			msg.ID = uuid.New().String()
		}
		seen[msg.ID] = true
		if msg.Timestamp <= last {
			msg.Timestamp = last + 1
		}
		last = msg.Timestamp
		out[i] = msg
	}
	return out
}
