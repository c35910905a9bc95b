package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder returns [len(text)] and counts calls per text.
type countingEmbedder struct {
	model  string
	single int32
	batch  int32
	texts  int32
	fail   bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.single, 1)
	if c.fail {
		return nil, errors.New("unavailable")
	}
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.batch, 1)
	atomic.AddInt32(&c.texts, int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Model() string   { return c.model }

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("hit after miss", func(t *testing.T) {
		inner := &countingEmbedder{model: "m"}
		c := NewCachedEmbedder(inner, 10, time.Minute)

		v1, err := c.Embed(ctx, "hello")
		require.NoError(t, err)
		v2, err := c.Embed(ctx, "hello")
		require.NoError(t, err)

		assert.Equal(t, v1, v2)
		assert.Equal(t, int32(1), inner.single)

		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Equal(t, 1, stats.Size)
		assert.InDelta(t, 50.0, stats.HitRate, 0.001)
	})

	t.Run("returned vectors are copies", func(t *testing.T) {
		c := NewCachedEmbedder(&countingEmbedder{model: "m"}, 10, 0)
		v, _ := c.Embed(ctx, "abc")
		v[0] = 99
		again, _ := c.Embed(ctx, "abc")
		assert.Equal(t, []float32{3}, again)
	})

	t.Run("lru eviction", func(t *testing.T) {
		inner := &countingEmbedder{model: "m"}
		c := NewCachedEmbedder(inner, 2, 0)
		c.Embed(ctx, "a")
		c.Embed(ctx, "b")
		c.Embed(ctx, "a") // a is now most recent
		c.Embed(ctx, "c") // evicts b
		assert.Equal(t, 2, c.Len())

		inner.single = 0
		c.Embed(ctx, "a")
		assert.Equal(t, int32(0), inner.single)
		c.Embed(ctx, "b")
		assert.Equal(t, int32(1), inner.single)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		inner := &countingEmbedder{model: "m"}
		c := NewCachedEmbedder(inner, 10, time.Minute)
		now := time.Unix(1000, 0)
		c.now = func() time.Time { return now }

		c.Embed(ctx, "q")
		now = now.Add(30 * time.Second)
		c.Embed(ctx, "q")
		assert.Equal(t, int32(1), inner.single)

		now = now.Add(2 * time.Minute)
		c.Embed(ctx, "q")
		assert.Equal(t, int32(2), inner.single)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		inner := &countingEmbedder{model: "m", fail: true}
		c := NewCachedEmbedder(inner, 10, 0)
		_, err := c.Embed(ctx, "x")
		assert.Error(t, err)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("model is part of the key", func(t *testing.T) {
		a := NewCachedEmbedder(&countingEmbedder{model: "a"}, 10, 0)
		b := NewCachedEmbedder(&countingEmbedder{model: "b"}, 10, 0)
		assert.NotEqual(t, a.key("text"), b.key("text"))
	})

	t.Run("batch only sends misses", func(t *testing.T) {
		inner := &countingEmbedder{model: "m"}
		c := NewCachedEmbedder(inner, 10, 0)
		c.Embed(ctx, "bb")

		vs, err := c.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1}, {2}, {3}}, vs)
		assert.Equal(t, int32(1), inner.batch)
		assert.Equal(t, int32(2), inner.texts)

		_, err = c.EmbedBatch(ctx, []string{"a", "ccc"})
		require.NoError(t, err)
		assert.Equal(t, int32(1), inner.batch)
	})

	t.Run("short batch is an error", func(t *testing.T) {
		short := Func{Name: "short", Dims: 1, Fn: func(context.Context, string) ([]float32, error) {
			return []float32{1}, nil
		}}
		c := NewCachedEmbedder(shortBatch{short}, 10, 0)

		var err error
		require.NotPanics(t, func() {
			_, err = c.EmbedBatch(ctx, []string{"a", "b"})
		})
		assert.ErrorIs(t, err, ErrBatchCount)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("clear", func(t *testing.T) {
		c := NewCachedEmbedder(&countingEmbedder{model: "m"}, 0, 0)
		c.Embed(ctx, "x")
		c.Clear()
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, 1000, c.Stats().MaxSize)
	})
}

// shortBatch drops all but the first vector of every batch.
type shortBatch struct{ Func }

func (s shortBatch) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := s.Func.EmbedBatch(ctx, texts)
	if err != nil || len(vs) == 0 {
		return vs, err
	}
	return vs[:1], nil
}
