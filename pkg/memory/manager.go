package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Recollection is a recalled chunk with its relevance.
type Recollection struct {
	store.Chunk
	// Score is cosine similarity for vector recall and 0 for keyword recall.
	Score float64 `json:"score"`
}

// Page is one slice of memory chunks, most recent first.
type Page struct {
	Chunks   []store.Chunk `json:"chunks"`
	Before   int64         `json:"before"`
	HasOlder bool          `json:"hasOlder"`
}

// Config configures a Manager.
type Config struct {
	Local             *store.LocalStore
	Logger            zerolog.Logger
	EmbeddingProvider EmbeddingProvider // Optional, if nil recall is keyword-only
}

// Manager stores and recalls memory chunks.
type Manager struct {
	local    *store.LocalStore
	db       *sql.DB
	logger   zerolog.Logger
	embedder EmbeddingProvider

	mu   sync.Mutex
	last int64
}

// NewManager creates a memory manager on top of the local tier.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()
	if cfg.Local == nil {
		return nil, errors.New("local store is required")
	}

	m := &Manager{
		local:    cfg.Local,
		db:       cfg.Local.DB(),
		logger:   cfg.Logger,
		embedder: cfg.EmbeddingProvider,
	}

	if m.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, m.embedder.Dimension())
		if _, err := m.db.Exec(vectorSchema); err != nil {
			return nil, fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	m.logger.Info().Bool("vector", m.embedder != nil).Msg("Memory manager initialized")
	return m, nil
}

// Remember stores text as a new chunk for identity.
func (m *Manager) Remember(ctx context.Context, identity, text string) (store.Chunk, error) {
	ctx, span := tracing.StartSpan(ctx, "luminous.memory", "memory.remember",
		attribute.String("identity", identity),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return store.Chunk{}, errors.New("memory text cannot be empty")
	}

	chunk := store.Chunk{
		ID:        uuid.New().String(),
		Identity:  identity,
		Content:   text,
		Timestamp: m.nextTimestamp(),
	}

	var blob []byte
	if m.embedder != nil {
		embedding, err := m.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			tracing.Fail(span, err)
			return store.Chunk{}, fmt.Errorf("failed to generate embedding: %w", err)
		}
		blob, err = sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return store.Chunk{}, fmt.Errorf("failed to serialize embedding: %w", err)
		}
	}

	if err := m.local.AppendChunk(ctx, chunk); err != nil {
		tracing.Fail(span, err)
		return store.Chunk{}, err
	}
	if blob != nil {
		if _, err := m.db.ExecContext(ctx,
			"INSERT INTO memory_embeddings (chunk_id, embedding) VALUES (?, ?)",
			chunk.ID, blob,
		); err != nil {
			tracing.Fail(span, err)
			return store.Chunk{}, fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	return chunk, nil
}

// nextTimestamp keeps chunk timestamps unique so pagination cursors are exact.
func (m *Manager) nextTimestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= m.last {
		ts = m.last + 1
	}
	m.last = ts
	return ts
}

// Recall returns up to k chunks of identity relevant to query.
func (m *Manager) Recall(ctx context.Context, identity, query string, k int) ([]Recollection, error) {
	ctx, span := tracing.StartSpan(ctx, "luminous.memory", "memory.recall",
		attribute.String("identity", identity),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if k <= 0 {
		k = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Recollection{}, nil
	}

	if m.embedder != nil {
		results, err := m.vectorRecall(ctx, identity, query, k)
		if err == nil {
			return results, nil
		}
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Warn().Err(err).Msg("Vector recall failed, using keyword recall")
	}
	return m.keywordRecall(ctx, identity, query, k)
}

func (m *Manager) vectorRecall(ctx context.Context, identity, query string, k int) ([]Recollection, error) {
	embedding, err := m.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.identity, c.content, c.timestamp,
			vec_distance_cosine(e.embedding, ?) AS distance
		FROM memory_chunks c
		JOIN memory_embeddings e ON e.chunk_id = c.id
		WHERE c.identity = ?
		ORDER BY distance ASC
		LIMIT ?`,
		blob, identity, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Recollection{}
	for rows.Next() {
		var r Recollection
		var distance float64
		if err := rows.Scan(&r.ID, &r.Identity, &r.Content, &r.Timestamp, &distance); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

func (m *Manager) keywordRecall(ctx context.Context, identity, query string, k int) ([]Recollection, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(query) + "%"
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, identity, content, timestamp FROM memory_chunks
		WHERE identity = ? AND content LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC
		LIMIT ?`,
		identity, pattern, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	defer rows.Close()

	results := []Recollection{}
	for rows.Next() {
		var r Recollection
		if err := rows.Scan(&r.ID, &r.Identity, &r.Content, &r.Timestamp); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Page lists chunks of identity older than before, most recent first.
func (m *Manager) Page(ctx context.Context, identity string, before int64, limit int) (Page, error) {
	if limit <= 0 {
		limit = 20
	}
	chunks, err := m.local.Chunks(ctx, identity, before, limit)
	if err != nil {
		return Page{}, err
	}
	page := Page{Chunks: chunks, Before: before}
	if len(chunks) == 0 {
		return page, nil
	}
	page.Before = chunks[len(chunks)-1].Timestamp
	older, err := m.local.CountChunks(ctx, identity, page.Before)
	if err != nil {
		return Page{}, err
	}
	page.HasOlder = older > 0
	return page, nil
}
