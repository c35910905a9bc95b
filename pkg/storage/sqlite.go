package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a single SQLite file.
// Embeddings are stored as little-endian float32 BLOBs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	// One connection: SQLite serialises writers anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		dimensions INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

// Put inserts or replaces a document.
func (s *SQLiteStore) Put(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, text, embedding, dimensions) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			updated_at = CURRENT_TIMESTAMP`,
		doc.ID, doc.Text, serializeEmbedding(doc.Vector), len(doc.Vector))
	if err != nil {
		return fmt.Errorf("storage: failed to store %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns a document or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Document, error) {
	var (
		text string
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT text, embedding FROM documents WHERE id = ?`, id).Scan(&text, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("storage: failed to load %s: %w", id, err)
	}
	vec, err := deserializeEmbedding(blob)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", id, err)
	}
	return Document{ID: id, Text: text, Vector: vec}, nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage: failed to delete %s: %w", id, err)
	}
	return nil
}

// Enumerate calls fn for every document in ascending ID order.
func (s *SQLiteStore) Enumerate(ctx context.Context, fn func(Document) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding FROM documents ORDER BY id`)
	if err != nil {
		return fmt.Errorf("storage: failed to enumerate: %w", err)
	}
	defer rows.Close()

	// Rows are buffered so fn may call back into the store without
	// deadlocking on the single connection.
	var docs []Document
	for rows.Next() {
		var (
			doc  Document
			blob []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &blob); err != nil {
			return fmt.Errorf("storage: failed to scan document: %w", err)
		}
		if doc.Vector, err = deserializeEmbedding(blob); err != nil {
			return fmt.Errorf("%s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: failed to count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
