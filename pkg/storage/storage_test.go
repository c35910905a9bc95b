package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecrank/pkg/vector"
)

// testStore runs the behaviour every driver must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		doc := Document{ID: "embedding:aa", Text: "hello", Vector: vector.Vector{1.5, -2, 0.25}}
		require.NoError(t, s.Put(ctx, doc))

		got, err := s.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Document{ID: "embedding:aa", Text: "v1", Vector: vector.Vector{1}}))
		require.NoError(t, s.Put(ctx, Document{ID: "embedding:aa", Text: "v2", Vector: vector.Vector{2, 3}}))

		got, err := s.Get(ctx, "embedding:aa")
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Text)
		assert.Equal(t, vector.Vector{2, 3}, got.Vector)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "embedding:nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "embedding:nope"))
	})

	t.Run("validation", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Put(ctx, Document{Vector: vector.Vector{1}}), ErrInvalidID)
		assert.ErrorIs(t, s.Put(ctx, Document{ID: "embedding:x"}), ErrEmptyEmbedding)
	})

	t.Run("enumerate in id order", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"embedding:c", "embedding:a", "embedding:d", "embedding:b"} {
			require.NoError(t, s.Put(ctx, Document{ID: id, Text: id, Vector: vector.Vector{1, 2}}))
		}
		require.NoError(t, s.Delete(ctx, "embedding:d"))

		var seen []string
		err := s.Enumerate(ctx, func(d Document) error {
			seen = append(seen, d.ID)
			assert.Equal(t, d.ID, d.Text)
			assert.Equal(t, vector.Vector{1, 2}, d.Vector)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"embedding:a", "embedding:b", "embedding:c"}, seen)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("enumerate stops on callback error", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Put(ctx, Document{ID: fmt.Sprintf("embedding:%d", i), Vector: vector.Vector{1}}))
		}
		stop := errors.New("stop")
		calls := 0
		err := s.Enumerate(ctx, func(Document) error {
			calls++
			if calls == 2 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 2, calls)
	})

	t.Run("enumerate honours cancellation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Document{ID: "embedding:a", Vector: vector.Vector{1}}))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.Enumerate(cctx, func(Document) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("special float values survive", func(t *testing.T) {
		s := newStore(t)
		doc := Document{ID: "embedding:f", Vector: vector.Vector{0, -0.0, 1e-38, 3.4e38}}
		require.NoError(t, s.Put(ctx, doc))
		got, err := s.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.Vector, got.Vector)
	})
}

func TestBadgerStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := NewBadgerStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Document{ID: "embedding:p", Text: "kept", Vector: vector.Vector{4, 5}}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "embedding:p")
	assert.ErrorIs(t, err, ErrClosed)

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "embedding:p")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Text)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := NewMemoryStore()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vecrank.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreInMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), Document{ID: "embedding:m", Vector: vector.Vector{1}}))
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, _ := newMiniredisStore(t)
		return s
	})
}

func TestRedisStoreLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)

	t.Run("writes text and embedding fields", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, Document{ID: "embedding:abc", Text: "doc", Vector: vector.Vector{0.5, 1}}))
		assert.Equal(t, "doc", mr.HGet("embedding:abc", "text"))
		assert.JSONEq(t, `{"values":[0.5,1]}`, mr.HGet("embedding:abc", "embedding"))
	})

	t.Run("reads existing keyspace", func(t *testing.T) {
		mr.HSet("embedding:0cc175b9c0f1b6a831c399e269772661", "text", "a", "embedding", `{"values": [0.1, 0.2, 0.3]}`)
		got, err := s.Get(ctx, "embedding:0cc175b9c0f1b6a831c399e269772661")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Text)
		assert.Equal(t, vector.Vector{0.1, 0.2, 0.3}, got.Vector)
	})

	t.Run("ignores other keys", func(t *testing.T) {
		require.NoError(t, mr.Set("session:1", "x"))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("rejects ids outside the prefix", func(t *testing.T) {
		err := s.Put(ctx, Document{ID: "doc-1", Vector: vector.Vector{1}})
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("corrupt embedding", func(t *testing.T) {
		mr.HSet("embedding:bad", "text", "x", "embedding", "not json")
		_, err := s.Get(ctx, "embedding:bad")
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestOpen(t *testing.T) {
	t.Run("badger", func(t *testing.T) {
		s, err := Open(Config{Driver: DriverBadger, Path: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &BadgerStore{}, s)
		s.Close()
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, s)
		s.Close()
	})

	t.Run("memory", func(t *testing.T) {
		s, err := Open(Config{Driver: DriverMemory})
		require.NoError(t, err)
		s.Close()
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := Open(Config{Driver: DriverRedis, RedisURL: "redis://" + mr.Addr()})
		require.NoError(t, err)
		assert.IsType(t, &RedisStore{}, s)
		s.Close()
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Open(Config{Driver: DriverSQLite})
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(Config{Driver: "cassandra"})
		assert.ErrorIs(t, err, ErrUnknownDriver)
	})
}

func TestEmbeddingBlob(t *testing.T) {
	v := []float32{1, -1, 0.5}
	blob := serializeEmbedding(v)
	assert.Len(t, blob, 12)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, blob[:4])

	_, err := deserializeEmbedding(blob[:5])
	assert.ErrorIs(t, err, ErrCorrupt)
}
