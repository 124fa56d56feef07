package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/kskip310/luminous/pkg/state"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Registers vec0 for every connection opened by this process.
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// Chunk is a stored memory fragment.
type Chunk struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// LocalConfig configures the embedded tier.
type LocalConfig struct {
	Path   string
	Logger zerolog.Logger
}

// LocalStore is the embedded sqlite tier. It is always available on the
// running device and is the only tier for messages and memory chunks.
type LocalStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenLocal opens (and creates) the sqlite database at cfg.Path.
func OpenLocal(cfg LocalConfig) (*LocalStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &LocalStore{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.Path).Msg("Local store opened")
	return s, nil
}

// schemaVersion is stored in PRAGMA user_version. Version 1 keys messages
// and memory chunks by (identity, id).
const schemaVersion = 1

var tableSchemas = map[string]string{
	"messages": `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			identity TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (identity, id)
		)`,
	"memory_chunks": `
		CREATE TABLE IF NOT EXISTS memory_chunks (
			id TEXT NOT NULL,
			identity TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (identity, id)
		)`,
}

var tableColumns = map[string]string{
	"messages":      "id, identity, sender, text, timestamp",
	"memory_chunks": "id, identity, content, timestamp",
}

func (s *LocalStore) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`); err != nil {
		return err
	}
	for _, table := range []string{"messages", "memory_chunks"} {
		if _, err := s.db.Exec(tableSchemas[table]); err != nil {
			return err
		}
	}
	if err := s.migrate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_identity_ts ON messages(identity, timestamp);
		CREATE INDEX IF NOT EXISTS idx_chunks_identity_ts ON memory_chunks(identity, timestamp);
	`)
	return err
}

// migrate rebuilds tables created before ids were scoped to an identity.
func (s *LocalStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	for _, table := range []string{"messages", "memory_chunks"} {
		var keys int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE pk > 0", table).Scan(&keys); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if keys >= 2 {
			continue
		}
		if err := s.rebuild(table); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
		s.logger.Info().Str("table", table).Msg("Table rebuilt with identity-scoped ids")
	}

	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

func (s *LocalStore) rebuild(table string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old := table + "_old"
	cols := tableColumns[table]
	for _, stmt := range []string{
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, old),
		tableSchemas[table],
		fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s", table, cols, cols, old),
		fmt.Sprintf("DROP TABLE %s", old),
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DB exposes the underlying handle for packages that add their own tables.
func (s *LocalStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key or ErrNotFound.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *LocalStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// AppendMessage stores one message for identity.
func (s *LocalStore) AppendMessage(ctx context.Context, identity string, msg state.Message) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, identity, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, identity, string(msg.Sender), msg.Text, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages returns up to limit messages older than before, most recent
// first. A before of zero starts from the newest message.
func (s *LocalStore) Messages(ctx context.Context, identity string, before int64, limit int) ([]state.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, text, timestamp FROM messages
		WHERE identity = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		identity, upperBound(before), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []state.Message{}
	for rows.Next() {
		var msg state.Message
		var sender string
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = state.Sender(sender)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages counts messages older than before.
func (s *LocalStore) CountMessages(ctx context.Context, identity string, before int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE identity = ? AND timestamp < ?",
		identity, upperBound(before),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// ReplaceMessages swaps the whole history of identity in one transaction.
// Ids are scoped to identity; a duplicate id within msgs fails the swap and
// leaves the previous history in place.
func (s *LocalStore) ReplaceMessages(ctx context.Context, identity string, msgs []state.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (id, identity, sender, text, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if _, err := stmt.ExecContext(ctx, msg.ID, identity, string(msg.Sender), msg.Text, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// AppendChunk stores one memory chunk.
func (s *LocalStore) AppendChunk(ctx context.Context, c Chunk) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memory_chunks (id, identity, content, timestamp) VALUES (?, ?, ?, ?)",
		c.ID, c.Identity, c.Content, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append chunk: %w", err)
	}
	return nil
}

// Chunks returns up to limit chunks older than before, most recent first.
func (s *LocalStore) Chunks(ctx context.Context, identity string, before int64, limit int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, content, timestamp FROM memory_chunks
		WHERE identity = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		identity, upperBound(before), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Identity, &c.Content, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks counts chunks older than before.
func (s *LocalStore) CountChunks(ctx context.Context, identity string, before int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_chunks WHERE identity = ? AND timestamp < ?",
		identity, upperBound(before),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func upperBound(before int64) int64 {
	if before <= 0 {
		return 1<<63 - 1
	}
	return before
}
