package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	local, err := store.OpenLocal(store.LocalConfig{
		Path:   filepath.Join(t.TempDir(), "history.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	m, err := New(Config{Local: local, Logger: zerolog.Nop(), Now: now})
	require.NoError(t, err)
	return m
}

func frozenClock() func() time.Time {
	at := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return at }
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{name: "plain", identity: "alice"},
		{name: "email", identity: "alice@example.com"},
		{name: "empty", identity: " ", wantErr: true},
		{name: "traversal", identity: "../etc", wantErr: true},
		{name: "separator", identity: "a/b", wantErr: true},
		{name: "null byte", identity: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.identity)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("should assign strictly increasing timestamps", func(t *testing.T) {
		m := newTestManager(t, frozenClock())

		a, err := m.Append(ctx, "alice", state.SenderUser, "one")
		require.NoError(t, err)
		b, err := m.Append(ctx, "alice", state.SenderAgent, "two")
		require.NoError(t, err)

		assert.Greater(t, b.Timestamp, a.Timestamp)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("should reject invalid identities", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.Append(ctx, "../x", state.SenderUser, "hi")
		assert.Error(t, err)
	})
}

func TestManager_Page(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, frozenClock())
	for i := 0; i < 7; i++ {
		_, err := m.Append(ctx, "alice", state.SenderUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	t.Run("should walk history from newest to oldest", func(t *testing.T) {
		first, err := m.Page(ctx, "alice", 0, 3)
		require.NoError(t, err)
		require.Len(t, first.Messages, 3)
		assert.Equal(t, "m6", first.Messages[0].Text)
		assert.True(t, first.HasOlder)

		second, err := m.Page(ctx, "alice", first.Before, 3)
		require.NoError(t, err)
		assert.Equal(t, "m3", second.Messages[0].Text)
		assert.True(t, second.HasOlder)

		third, err := m.Page(ctx, "alice", second.Before, 3)
		require.NoError(t, err)
		require.Len(t, third.Messages, 1)
		assert.Equal(t, "m0", third.Messages[0].Text)
		assert.False(t, third.HasOlder)
	})

	t.Run("should return an empty page for unknown identities", func(t *testing.T) {
		page, err := m.Page(ctx, "nobody", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
		assert.False(t, page.HasOlder)
	})

	t.Run("should list recent and all messages chronologically", func(t *testing.T) {
		recent, err := m.Recent(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "m5", recent[0].Text)
		assert.Equal(t, "m6", recent[1].Text)

		all, err := m.All(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 7)
		assert.Equal(t, "m0", all[0].Text)
	})
}

func TestManager_Replace(t *testing.T) {
	ctx := context.Background()

	t.Run("should swap history and keep timestamps increasing", func(t *testing.T) {
		m := newTestManager(t, frozenClock())
		_, err := m.Append(ctx, "alice", state.SenderUser, "old")
		require.NoError(t, err)

		restored := []state.Message{{ID: "r1", Sender: state.SenderAgent, Text: "restored", Timestamp: 1_800_000_000_000}}
		require.NoError(t, m.Replace(ctx, "alice", restored))

		next, err := m.Append(ctx, "alice", state.SenderUser, "after")
		require.NoError(t, err)
		assert.Greater(t, next.Timestamp, restored[0].Timestamp)

		all, err := m.All(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "restored", all[0].Text)
	})
	t.Run("should assign fresh ids to empty or repeated ones", func(t *testing.T) {
		m := newTestManager(t, frozenClock())
		restored := []state.Message{
			{ID: "", Sender: state.SenderUser, Text: "blank", Timestamp: 5},
			{ID: "dup", Sender: state.SenderAgent, Text: "first", Timestamp: 5},
			{ID: "dup", Sender: state.SenderUser, Text: "second", Timestamp: 3},
		}
		require.NoError(t, m.Replace(ctx, "alice", restored))

		all, err := m.All(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"blank", "first", "second"}, []string{all[0].Text, all[1].Text, all[2].Text})
		assert.Equal(t, "dup", all[1].ID)
		assert.NotEmpty(t, all[0].ID)
		assert.NotEqual(t, "dup", all[2].ID)
		assert.Less(t, all[0].Timestamp, all[1].Timestamp)
		assert.Less(t, all[1].Timestamp, all[2].Timestamp)
		assert.Empty(t, restored[0].ID)
	})

	t.Run("should leave another identity's history alone", func(t *testing.T) {
		m := newTestManager(t, frozenClock())
		msg, err := m.Append(ctx, "alice", state.SenderUser, "mine")
		require.NoError(t, err)

		require.NoError(t, m.Replace(ctx, "bob", []state.Message{msg}))

		alice, err := m.All(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, alice, 1)
		assert.Equal(t, "mine", alice[0].Text)

		bob, err := m.All(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, bob, 1)
	})
}
