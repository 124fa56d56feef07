package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kskip310/luminous/pkg/memory"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// KV is the byte store behind kv_get and kv_set.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Memory is the long-term memory behind remember and recall.
type Memory interface {
	Remember(ctx context.Context, identity, text string) (store.Chunk, error)
	Recall(ctx context.Context, identity, query string, k int) ([]memory.Recollection, error)
}

// Options configures core tool registration. Tools whose backing
// dependency is nil are not registered.
type Options struct {
	KV     KV
	FS     afero.Fs
	Memory Memory

	HTTPClient   *http.Client
	Retry        toolexecutor.RetryPolicy
	MaxBodyBytes int64
	SearchURL    string
	SearchKey    string

	// CodeTimeout bounds execute_code runs.
	CodeTimeout time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = toolexecutor.DefaultRetryPolicy("")
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.CodeTimeout <= 0 {
		o.CodeTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Register registers every core tool whose dependency is available.
func Register(executor *toolexecutor.Executor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	opts.defaults()

	tools := stateTools(opts)
	tools = append(tools, executeCodeTool(opts))
	tools = append(tools, httpFetchTool(opts))
	if opts.SearchURL != "" {
		tools = append(tools, webSearchTool(opts))
	}
	if opts.KV != nil {
		tools = append(tools, kvGetTool(opts), kvSetTool(opts))
	}
	if opts.FS != nil {
		tools = append(tools, fsReadTool(opts), fsWriteTool(opts), fsListTool(opts))
	}
	if opts.Memory != nil {
		tools = append(tools, rememberTool(opts), recallTool(opts))
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	opts.Logger.Info().Int("count", len(tools)).Msg("Core tools registered")
	return nil
}

func newID(prefix string) string {
	id, err := gonanoid.New(12)
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id
}
