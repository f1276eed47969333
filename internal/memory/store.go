// Package memory provides the optional memory backend the pipeline recalls
// from at run start and the CLI writes completed exchanges into. Backed by
// SQLite; unavailability degrades a run, never aborts it.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aienhance/aienhance/internal/logging"
	"github.com/aienhance/aienhance/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
`

// Record is one stored memory.
type Record struct {
	ID        string
	UserID    string
	Content   string
	CreatedAt time.Time
}

// Store is the SQLite-backed memory store.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (creating if needed) the memory database at path and
// initializes its schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		db:  db,
		log: logging.Global().WithComponent("memory"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores a memory and returns its ID.
func (s *Store) Add(ctx context.Context, userID, content string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memories (id, user_id, content, created_at) VALUES (?, ?, ?, ?)",
		id, userID, content, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

// Search returns the newest memories whose content matches the query with a
// LIKE scan, scoped to the user. An empty query returns the newest memories
// unconditionally.
func (s *Store) Search(ctx context.Context, query, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, created_at
		FROM memories
		WHERE user_id = ? AND (? = '' OR content LIKE '%' || ? || '%')
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recall implements pipeline.Recaller. The LIKE scan rarely matches a whole
// natural-language query, so recall falls back to the user's newest memories
// when the scoped search comes up empty.
func (s *Store) Recall(ctx context.Context, query, userID string, limit int) ([]pipeline.MemoryItem, error) {
	records, err := s.Search(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && query != "" {
		records, err = s.Search(ctx, "", userID, limit)
		if err != nil {
			return nil, err
		}
	}

	items := make([]pipeline.MemoryItem, len(records))
	for i, r := range records {
		items[i] = pipeline.MemoryItem{ID: r.ID, Content: r.Content}
	}
	return items, nil
}
