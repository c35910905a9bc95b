package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix of document hashes.
const DefaultRedisPrefix = "embedding:"

// RedisStore keeps one hash per document:
//
//	HSET embedding:<hash> text "<document text>" embedding '{"values":[...]}'
//
// The layout matches keyspaces written by earlier embedding pipelines, so
// an existing Redis index can be ranked without re-indexing. Document IDs
// are the full keys and must carry the prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: DefaultRedisPrefix}
}

// NewRedisStoreFromURL connects to a redis:// URL and pings it.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	if url == "" {
		url = "redis://127.0.0.1:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) checkID(id string) error {
	if !strings.HasPrefix(id, s.prefix) || len(id) == len(s.prefix) {
		return fmt.Errorf("%w: %q must start with %q", ErrInvalidID, id, s.prefix)
	}
	return nil
}

// Put inserts or replaces a document.
func (s *RedisStore) Put(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := s.checkID(doc.ID); err != nil {
		return err
	}
	emb, err := marshalEmbeddingJSON(doc.Vector)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, doc.ID, "text", doc.Text, "embedding", emb).Err(); err != nil {
		return fmt.Errorf("storage: redis HSET %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns a document or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (Document, error) {
	fields, err := s.client.HGetAll(ctx, id).Result()
	if err != nil {
		return Document{}, fmt.Errorf("storage: redis HGETALL %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.decode(id, fields)
}

func (s *RedisStore) decode(id string, fields map[string]string) (Document, error) {
	raw, ok := fields["embedding"]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s has no embedding field", ErrCorrupt, id)
	}
	vec, err := unmarshalEmbeddingJSON(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", id, err)
	}
	return Document{ID: id, Text: fields["text"], Vector: vec}, nil
}

// Delete removes a document.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, id).Err(); err != nil {
		return fmt.Errorf("storage: redis DEL %s: %w", id, err)
	}
	return nil
}

// keys returns every document key, sorted. SCAN order is arbitrary.
func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("storage: redis SCAN: %w", err)
	}
	sort.Strings(keys)
	// SCAN may return a key more than once.
	keys = compactSorted(keys)
	return keys, nil
}

func compactSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// enumerateBatch bounds how many HGETALLs go into one pipeline.
const enumerateBatch = 128

// Enumerate calls fn for every document in ascending ID order.
func (s *RedisStore) Enumerate(ctx context.Context, fn func(Document) error) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}

	for lo := 0; lo < len(keys); lo += enumerateBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := keys[lo:min(lo+enumerateBatch, len(keys))]

		pipe := s.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(batch))
		for i, k := range batch {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("storage: redis pipeline: %w", err)
		}

		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				// Deleted between SCAN and HGETALL.
				continue
			}
			doc, err := s.decode(batch[i], fields)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
