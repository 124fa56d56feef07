package coretools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kskip310/luminous/pkg/memory"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	exec  *toolexecutor.Executor
	local *store.LocalStore
	fs    afero.Fs
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	local, err := store.OpenLocal(store.LocalConfig{Path: filepath.Join(t.TempDir(), "tools.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	mem, err := memory.NewManager(memory.Config{Local: local, Logger: zerolog.Nop()})
	require.NoError(t, err)

	h := &harness{
		exec:  toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop(), Timeout: 5 * time.Second}),
		local: local,
		fs:    afero.NewMemMapFs(),
	}
	opts := Options{
		KV:     local,
		FS:     h.fs,
		Memory: mem,
		Retry:  toolexecutor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: zerolog.Nop()},
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	require.NoError(t, Register(h.exec, opts))
	return h
}

func (h *harness) run(t *testing.T, name string, args map[string]any, st state.AgentState) toolexecutor.Result {
	t.Helper()
	return h.exec.Execute(context.Background(), "alice", toolexecutor.Call{ID: "c1", Name: name, Args: args}, st)
}

func (h *harness) apply(t *testing.T, st state.AgentState, res toolexecutor.Result) state.AgentState {
	t.Helper()
	require.Nil(t, res.Error)
	next, warnings, err := state.Apply(st, res.Patch)
	require.NoError(t, err)
	require.Empty(t, warnings)
	return next
}

func TestRegister(t *testing.T) {
	t.Run("should require an executor", func(t *testing.T) {
		assert.Error(t, Register(nil, Options{}))
	})

	t.Run("should register every tool when all dependencies are set", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.SearchURL = "http://search.invalid" })
		assert.Equal(t, []string{
			"add_journal_entry", "add_knowledge_edge", "add_knowledge_node", "execute_code",
			"fs_list", "fs_read", "fs_write", "get_state", "http_fetch", "kv_get", "kv_set",
			"propose_code_change", "propose_goal", "propose_ui_change", "recall", "remember",
			"update_self_model", "update_step_status", "web_search",
		}, h.exec.Names())
	})

	t.Run("should skip tools without dependencies", func(t *testing.T) {
		exec := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop()})
		require.NoError(t, Register(exec, Options{Logger: zerolog.Nop()}))
		assert.Nil(t, exec.Get("kv_get"))
		assert.Nil(t, exec.Get("fs_read"))
		assert.Nil(t, exec.Get("recall"))
		assert.Nil(t, exec.Get("web_search"))
		assert.NotNil(t, exec.Get("get_state"))
	})
}

func TestKVTools(t *testing.T) {
	h := newHarness(t, nil)
	st := state.Default()

	t.Run("should report missing keys", func(t *testing.T) {
		res := h.run(t, "kv_get", map[string]any{"key": "color"}, st)
		require.Nil(t, res.Error)
		assert.Equal(t, false, res.Output.(map[string]any)["found"])
	})

	t.Run("should round trip values under the identity namespace", func(t *testing.T) {
		res := h.run(t, "kv_set", map[string]any{"key": "color", "value": "teal"}, st)
		require.Nil(t, res.Error)

		res = h.run(t, "kv_get", map[string]any{"key": "color"}, st)
		require.Nil(t, res.Error)
		assert.Equal(t, "teal", res.Output.(map[string]any)["value"])

		raw, err := h.local.Get(context.Background(), "kv:alice:color")
		require.NoError(t, err)
		assert.Equal(t, "teal", string(raw))
	})

	t.Run("should reject empty keys", func(t *testing.T) {
		res := h.run(t, "kv_set", map[string]any{"key": " ", "value": "x"}, st)
		require.NotNil(t, res.Error)
	})
}

func TestFSTools(t *testing.T) {
	h := newHarness(t, nil)
	st := state.Default()

	t.Run("should write, append, read and list", func(t *testing.T) {
		res := h.run(t, "fs_write", map[string]any{"path": "notes/todo.md", "content": "a"}, st)
		require.Nil(t, res.Error)
		res = h.run(t, "fs_write", map[string]any{"path": "notes/todo.md", "content": "b", "append": true}, st)
		require.Nil(t, res.Error)

		res = h.run(t, "fs_read", map[string]any{"path": "notes/todo.md"}, st)
		require.Nil(t, res.Error)
		assert.Equal(t, "ab", res.Output.(map[string]any)["content"])

		res = h.run(t, "fs_list", map[string]any{"path": "notes"}, st)
		require.Nil(t, res.Error)
		entries := res.Output.(map[string]any)["entries"].([]map[string]any)
		require.Len(t, entries, 1)
		assert.Equal(t, "todo.md", entries[0]["name"])

		exists, err := afero.Exists(h.fs, "/alice/notes/todo.md")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("should truncate reads at max_bytes", func(t *testing.T) {
		h.run(t, "fs_write", map[string]any{"path": "long.txt", "content": "0123456789"}, st)
		res := h.run(t, "fs_read", map[string]any{"path": "long.txt", "max_bytes": 4}, st)
		require.Nil(t, res.Error)
		out := res.Output.(map[string]any)
		assert.Equal(t, "0123", out["content"])
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("should reject escapes", func(t *testing.T) {
		res := h.run(t, "fs_read", map[string]any{"path": "../bob/secret"}, st)
		require.NotNil(t, res.Error)
		assert.Contains(t, res.Error.Message, "escapes")
	})

	t.Run("should report missing files with a suggestion", func(t *testing.T) {
		res := h.run(t, "fs_read", map[string]any{"path": "nope.txt"}, st)
		require.NotNil(t, res.Error)
		assert.Contains(t, res.Error.Suggestion, "fs_list")
	})
}

func TestMemoryTools(t *testing.T) {
	h := newHarness(t, nil)
	st := state.Default()

	t.Run("should remember and recall by keyword", func(t *testing.T) {
		res := h.run(t, "remember", map[string]any{"text": "The user's cat is called Miso"}, st)
		require.Nil(t, res.Error)

		res = h.run(t, "recall", map[string]any{"query": "Miso"}, st)
		require.Nil(t, res.Error)
		memories := res.Output.(map[string]any)["memories"].([]map[string]any)
		require.Len(t, memories, 1)
		assert.Contains(t, memories[0]["content"], "Miso")
	})
}

func TestExecuteCode(t *testing.T) {
	h := newHarness(t, nil)
	st := state.Default()

	t.Run("should run a main program and record the sandbox", func(t *testing.T) {
		code := "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hello\") }\n"
		res := h.run(t, "execute_code", map[string]any{"language": "go", "code": code}, st)
		require.Nil(t, res.Error)
		assert.Equal(t, "hello\n", res.Output.(map[string]any)["output"])

		next := h.apply(t, st, res)
		assert.Equal(t, "success", next.CodeSandbox.Status)
		assert.Equal(t, code, next.CodeSandbox.Code)
	})

	t.Run("should return the value of an expression", func(t *testing.T) {
		res := h.run(t, "execute_code", map[string]any{"code": "6 * 7"}, st)
		require.Nil(t, res.Error)
		assert.Equal(t, "42", res.Output.(map[string]any)["value"])
	})

	t.Run("should report compile errors without a patch", func(t *testing.T) {
		res := h.run(t, "execute_code", map[string]any{"code": "package main\nfunc main() { undefinedThing() }"}, st)
		require.NotNil(t, res.Error)
		assert.Nil(t, res.Patch)
		assert.NotEmpty(t, res.Error.Details)
	})

	t.Run("should reject other languages", func(t *testing.T) {
		res := h.run(t, "execute_code", map[string]any{"language": "python", "code": "print(1)"}, st)
		require.NotNil(t, res.Error)
	})
}
