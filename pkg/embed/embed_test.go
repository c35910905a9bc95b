package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, dims int) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Prompt == "boom" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		v := make([]float32, dims)
		v[0] = float32(len(req.Prompt))
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: v})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func ollamaConfig(url string, dims int) *Config {
	cfg := DefaultOllamaConfig()
	cfg.APIURL = url
	cfg.Dimensions = dims
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestOllamaEmbedder(t *testing.T) {
	ctx := context.Background()
	srv, calls := newOllamaServer(t, 4)

	e := NewOllama(ollamaConfig(srv.URL, 4))
	assert.Equal(t, "all-minilm", e.Model())
	assert.Equal(t, 4, e.Dimensions())

	t.Run("single", func(t *testing.T) {
		v, err := e.Embed(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 0, 0, 0}, v)
	})

	t.Run("batch keeps order", func(t *testing.T) {
		atomic.StoreInt32(calls, 0)
		vs, err := e.EmbedBatch(ctx, []string{"a", "abcd", "ab"})
		require.NoError(t, err)
		require.Len(t, vs, 3)
		assert.Equal(t, float32(1), vs[0][0])
		assert.Equal(t, float32(4), vs[1][0])
		assert.Equal(t, float32(2), vs[2][0])
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	})

	t.Run("server error", func(t *testing.T) {
		_, err := e.Embed(ctx, "boom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
		assert.Contains(t, err.Error(), "model not loaded")
	})

	t.Run("dimension check", func(t *testing.T) {
		wrong := NewOllama(ollamaConfig(srv.URL, 8))
		_, err := wrong.Embed(ctx, "abc")
		assert.ErrorIs(t, err, ErrDimensions)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Embed(cctx, "abc")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOpenAIEmbedder(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Reply in reverse order to exercise the index mapping.
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Embedding: []float32{float32(i), 1}, Index: i})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("sk-test")
	cfg.APIURL = srv.URL
	cfg.Dimensions = 2
	e := NewOpenAI(cfg)

	vs, err := e.EmbedBatch(ctx, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vs)

	v, err := e.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)

	vs, err = e.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestOpenAIEmbedderMissingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("sk-test")
	cfg.APIURL = srv.URL
	_, err := NewOpenAI(cfg).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(DefaultOllamaConfig())
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	_, err = NewEmbedder(DefaultOpenAIConfig(""))
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	e, err = NewEmbedder(DefaultOpenAIConfig("sk"))
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	_, err = NewEmbedder(&Config{Provider: "bert"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	f := Func{Name: "len", Dims: 1, Fn: func(_ context.Context, text string) ([]float32, error) {
		if text == "" {
			return nil, boom
		}
		return []float32{float32(len(text))}, nil
	}}
	assert.Equal(t, "len", f.Model())
	assert.Equal(t, 1, f.Dimensions())

	vs, err := f.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vs)

	_, err = f.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, boom)
}
