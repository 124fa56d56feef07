package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kskip310/luminous/internal/config"
	"github.com/kskip310/luminous/pkg/memory"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// DatabaseFile is the sqlite file under the data directory.
const DatabaseFile = "luminous.db"

// Core is the persistence stack shared by the daemon and the offline CLI
// commands: both tiers, message history and memory.
type Core struct {
	Local    *store.LocalStore
	Store    *store.StateStore
	Sessions *session.Manager
	Memory   *memory.Manager

	logger zerolog.Logger
}

// OpenCore opens the local database under cfg.DataDir and connects the
// remote tier when it is configured.
func OpenCore(cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	local, err := store.OpenLocal(store.LocalConfig{
		Path:   filepath.Join(cfg.DataDir, DatabaseFile),
		Logger: logger.With().Str("component", "local").Logger(),
	})
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{
		Local:     local,
		Remote:    newRemote(cfg.Remote),
		KeyPrefix: cfg.Remote.KeyPrefix,
		Logger:    logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		local.Close()
		return nil, err
	}

	sessions, err := session.New(session.Config{
		Local:  local,
		Logger: logger.With().Str("component", "session").Logger(),
	})
	if err != nil {
		local.Close()
		return nil, err
	}

	var embedder memory.EmbeddingProvider
	if cfg.Memory.APIKey != "" {
		var opts []option.RequestOption
		if cfg.Memory.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Memory.BaseURL))
		}
		embedder, err = memory.NewOpenAIEmbeddings(cfg.Memory.APIKey, cfg.Memory.EmbeddingModel, opts...)
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("failed to create embedding provider: %w", err)
		}
	}

	mem, err := memory.NewManager(memory.Config{
		Local:             local,
		Logger:            logger.With().Str("component", "memory").Logger(),
		EmbeddingProvider: embedder,
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to create memory manager: %w", err)
	}

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Bool("remote", st.RemoteConfigured()).
		Bool("embeddings", embedder != nil).
		Msg("Storage opened")

	return &Core{
		Local:    local,
		Store:    st,
		Sessions: sessions,
		Memory:   mem,
		logger:   logger,
	}, nil
}

func newRemote(cfg config.RemoteConfig) store.RemoteTier {
	return store.NewRESTRemote(store.RESTConfig{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Timeout: config.Millis(cfg.TimeoutMs),
	})
}

// Close closes the local database.
func (c *Core) Close() error {
	return c.Local.Close()
}

// Export builds a snapshot of identity's stored state and full history.
func (c *Core) Export(ctx context.Context, identity string) ([]byte, error) {
	if err := session.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	st, _ := c.Store.Load(ctx, identity)
	msgs, err := c.Sessions.All(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return snapshot.Export(st, msgs)
}

// Import replaces identity's stored state and history with a snapshot. It
// fails with snapshot.ErrNotSnapshot for anything else.
func (c *Core) Import(ctx context.Context, identity string, data []byte) (store.SaveOutcome, error) {
	if err := session.ValidateIdentity(identity); err != nil {
		return store.SaveOutcome{}, err
	}
	snap, err := snapshot.Detect(data)
	if err != nil {
		return store.SaveOutcome{}, err
	}
	if err := c.Sessions.Replace(ctx, identity, snap.Messages); err != nil {
		return store.SaveOutcome{}, fmt.Errorf("failed to restore history: %w", err)
	}

	st := snap.State
	st.Normalize()
	outcome := c.Store.Save(ctx, identity, st)
	if outcome.Tier == store.TierError {
		return outcome, fmt.Errorf("snapshot could not be saved: %v", outcome.LocalErr)
	}
	return outcome, nil
}

// History returns one page of identity's messages, most recent first.
func (c *Core) History(ctx context.Context, identity string, before int64, limit int) (session.Page, error) {
	if err := session.ValidateIdentity(identity); err != nil {
		return session.Page{}, err
	}
	return c.Sessions.Page(ctx, identity, before, limit)
}

// State returns identity's stored state without starting a session.
func (c *Core) State(ctx context.Context, identity string) (state.AgentState, store.LoadOutcome) {
	return c.Store.Load(ctx, identity)
}
