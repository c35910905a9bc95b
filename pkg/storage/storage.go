// Package storage persists documents and their embeddings for vecrank.
//
// The storage package defines the Store interface and provides multiple implementations:
//   - BadgerStore: Persistent disk-based storage (default)
//   - MemoryStore: BadgerDB's in-memory mode (for testing)
//   - SQLiteStore: a single SQLite file, vectors as little-endian BLOBs
//   - RedisStore: one hash per document, compatible with existing
//     "embedding:<hash>" keyspaces
//
// All stores are thread-safe and enumerate documents in ascending ID order,
// so a ranking over the same data is reproducible across drivers.
//
// Example Usage:
//
//	store, err := storage.Open(storage.Config{Driver: "badger", Path: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, storage.Document{
//		ID:     "embedding:0f3a...",
//		Text:   "Go is a statically typed language",
//		Vector: embedding,
//	})
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/orneryd/vecrank/pkg/vector"
)

// Errors
var (
	ErrNotFound       = errors.New("storage: document not found")
	ErrInvalidID      = errors.New("storage: invalid document id")
	ErrEmptyEmbedding = errors.New("storage: embedding cannot be empty")
	ErrClosed         = errors.New("storage: store closed")
	ErrCorrupt        = errors.New("storage: corrupt record")
	ErrUnknownDriver  = errors.New("storage: unknown driver")
)

// Document is a stored text and its embedding.
type Document struct {
	ID     string
	Text   string
	Vector vector.Vector
}

// Validate checks the fields every driver requires.
func (d Document) Validate() error {
	if d.ID == "" {
		return ErrInvalidID
	}
	if len(d.Vector) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyEmbedding, d.ID)
	}
	return nil
}

// Store is the document store used by indexing and ranking.
type Store interface {
	// Put inserts or replaces a document.
	Put(ctx context.Context, doc Document) error

	// Get returns a document or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Enumerate calls fn for every document in ascending ID order. An error
	// from fn stops enumeration and is returned.
	Enumerate(ctx context.Context, fn func(Document) error) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Driver names.
const (
	DriverBadger = "badger"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config selects and configures a driver.
type Config struct {
	Driver string

	// Path is the badger directory or SQLite file.
	Path string

	// RedisURL is a redis:// URL for the redis driver.
	RedisURL string

	// Logger receives [STORE] lines. Defaults to log.Default().
	Logger *log.Logger
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	switch cfg.Driver {
	case DriverBadger, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: badger driver needs a path")
		}
		s, err := NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Printf("[STORE] badger store opened at %s", cfg.Path)
		return s, nil
	case DriverMemory:
		s, err := NewMemoryStore()
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: sqlite driver needs a path")
		}
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Printf("[STORE] sqlite store opened at %s", cfg.Path)
		return s, nil
	case DriverRedis:
		s, err := NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Printf("[STORE] redis store connected to %s", cfg.RedisURL)
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
