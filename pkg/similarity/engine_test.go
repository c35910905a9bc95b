package similarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecrank/pkg/gpu"
	"github.com/orneryd/vecrank/pkg/gpu/driver"
	"github.com/orneryd/vecrank/pkg/gpu/emulator"
	"github.com/orneryd/vecrank/pkg/gpu/kernels"
	"github.com/orneryd/vecrank/pkg/vector"
)

var quiet = log.New(io.Discard, "", 0)

// fixedBackend returns preset scores keyed by the candidate's first element.
type fixedBackend struct {
	kind   Kind
	scores map[float32]float32
	err    error
	prep   error
}

func (f *fixedBackend) Kind() Kind     { return f.kind }
func (f *fixedBackend) Prepare() error { return f.prep }
func (f *fixedBackend) Score(a, b vector.Vector) (float32, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[b[0]], nil
}

func ids(results []ScoredDocument) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func emulatorAccelerator(t *testing.T, opts emulator.Options) *gpu.Accelerator {
	t.Helper()
	drv := gpu.NewDriver(gpu.BackendEmulator, func(*gpu.Config) (driver.Context, error) {
		return emulator.New(opts), nil
	}, kernels.PTX())
	accel := gpu.NewAccelerator(nil, gpu.WithDriver(drv), gpu.WithLogger(quiet))
	t.Cleanup(accel.Release)
	return accel
}

func TestRankOrdering(t *testing.T) {
	backend := &fixedBackend{kind: KindCPU, scores: map[float32]float32{
		1: 0.9, 2: -0.2, 3: 0.9, 4: 0.5,
	}}
	engine := NewEngine(WithBackend(backend), WithLogger(quiet))

	candidates := []Candidate{
		{ID: "A", Vector: vector.Vector{1}},
		{ID: "B", Vector: vector.Vector{2}},
		{ID: "C", Vector: vector.Vector{3}},
		{ID: "D", Vector: vector.Vector{4}},
	}

	ranking, err := engine.Rank(context.Background(), vector.Vector{1}, candidates, KindCPU)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D", "B"}, ids(ranking.Results))
	assert.Empty(t, ranking.Rejected)
}

func TestRankNaNLast(t *testing.T) {
	nan := float32(math.NaN())
	backend := &fixedBackend{kind: KindCPU, scores: map[float32]float32{
		1: nan, 2: 0.1, 3: nan, 4: -0.7, 5: 0.8,
	}}
	engine := NewEngine(WithBackend(backend), WithLogger(quiet))

	var candidates []Candidate
	for i := 1; i <= 5; i++ {
		candidates = append(candidates, Candidate{ID: fmt.Sprint(i), Vector: vector.Vector{float32(i)}})
	}

	ranking, err := engine.Rank(context.Background(), vector.Vector{1}, candidates, KindCPU)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "2", "4", "1", "3"}, ids(ranking.Results))
}

func TestRankCPU(t *testing.T) {
	engine := NewEngine(WithLogger(quiet))
	query := vector.Vector{1, 0}

	t.Run("scores and order", func(t *testing.T) {
		ranking, err := engine.Rank(context.Background(), query, []Candidate{
			{ID: "orthogonal", Vector: vector.Vector{0, 1}},
			{ID: "same", Vector: vector.Vector{2, 0}},
			{ID: "opposite", Vector: vector.Vector{-1, 0}},
		}, KindCPU)
		require.NoError(t, err)
		assert.Equal(t, []string{"same", "orthogonal", "opposite"}, ids(ranking.Results))
		assert.InDelta(t, 1.0, ranking.Results[0].Score, 1e-6)
		assert.InDelta(t, -1.0, ranking.Results[2].Score, 1e-6)
	})

	t.Run("dimension mismatch rejects item", func(t *testing.T) {
		ranking, err := engine.Rank(context.Background(), query, []Candidate{
			{ID: "ok", Vector: vector.Vector{1, 1}},
			{ID: "short", Vector: vector.Vector{1}},
			{ID: "long", Vector: vector.Vector{1, 2, 3}},
		}, KindCPU)
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, ids(ranking.Results))
		require.Len(t, ranking.Rejected, 2)
		assert.Equal(t, "short", ranking.Rejected[0].ID)
		assert.Equal(t, "long", ranking.Rejected[1].ID)
		assert.ErrorIs(t, ranking.Rejected[0], vector.ErrDimensionMismatch)
	})

	t.Run("zero vector ranks last as NaN", func(t *testing.T) {
		ranking, err := engine.Rank(context.Background(), query, []Candidate{
			{ID: "zero", Vector: vector.Vector{0, 0}},
			{ID: "low", Vector: vector.Vector{-1, 0}},
		}, KindCPU)
		require.NoError(t, err)
		assert.Equal(t, []string{"low", "zero"}, ids(ranking.Results))
		assert.True(t, math.IsNaN(float64(ranking.Results[1].Score)))
	})

	t.Run("empty candidate list", func(t *testing.T) {
		ranking, err := engine.Rank(context.Background(), query, nil, KindCPU)
		require.NoError(t, err)
		assert.Empty(t, ranking.Results)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := engine.Rank(context.Background(), query, nil, Kind("tpu"))
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}

func TestRankParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	query := make(vector.Vector, 64)
	for i := range query {
		query[i] = rng.Float32()
	}
	candidates := make([]Candidate, 500)
	for i := range candidates {
		v := make(vector.Vector, 64)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		if i%50 == 0 {
			v = v[:10]
		}
		candidates[i] = Candidate{ID: fmt.Sprintf("doc-%03d", i), Vector: v}
	}

	seq, err := NewEngine(WithLogger(quiet)).Rank(context.Background(), query, candidates, KindCPU)
	require.NoError(t, err)
	par, err := NewEngine(WithWorkers(8), WithLogger(quiet)).Rank(context.Background(), query, candidates, KindCPU)
	require.NoError(t, err)

	assert.Equal(t, seq.Results, par.Results)
	require.Len(t, par.Rejected, 10)
	for i, r := range par.Rejected {
		assert.Equal(t, seq.Rejected[i].ID, r.ID)
	}
}

func TestRankCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(WithLogger(quiet)).Rank(ctx, vector.Vector{1}, []Candidate{{ID: "a", Vector: vector.Vector{1}}}, KindCPU)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankAccelerator(t *testing.T) {
	t.Run("matches cpu", func(t *testing.T) {
		accel := emulatorAccelerator(t, emulator.Options{})
		engine := NewEngine(WithAccelerator(accel), WithLogger(quiet))

		rng := rand.New(rand.NewSource(11))
		query := make(vector.Vector, 300)
		for i := range query {
			query[i] = rng.Float32()*2 - 1
		}
		var candidates []Candidate
		for i := 0; i < 20; i++ {
			v := make(vector.Vector, 300)
			for j := range v {
				v[j] = rng.Float32()*2 - 1
			}
			candidates = append(candidates, Candidate{ID: fmt.Sprint(i), Vector: v})
		}
		candidates = append(candidates, Candidate{ID: "bad", Vector: vector.Vector{1}})

		cpu, err := engine.Rank(context.Background(), query, candidates, KindCPU)
		require.NoError(t, err)
		dev, err := engine.Rank(context.Background(), query, candidates, KindAccelerator)
		require.NoError(t, err)

		require.Len(t, dev.Results, len(cpu.Results))
		want := map[string]float32{}
		for _, r := range cpu.Results {
			want[r.ID] = r.Score
		}
		for _, r := range dev.Results {
			assert.InDelta(t, want[r.ID], r.Score, 1e-4, r.ID)
		}
		require.Len(t, dev.Rejected, 1)
		assert.Equal(t, "bad", dev.Rejected[0].ID)
		assert.Equal(t, int64(20), accel.Stats().Comparisons)
	})

	t.Run("empty vectors score NaN like cpu", func(t *testing.T) {
		accel := emulatorAccelerator(t, emulator.Options{})
		engine := NewEngine(WithAccelerator(accel), WithLogger(quiet))
		candidates := []Candidate{
			{ID: "empty", Vector: vector.Vector{}},
			{ID: "x", Vector: nil},
		}

		for _, kind := range []Kind{KindCPU, KindAccelerator} {
			ranking, err := engine.Rank(context.Background(), vector.Vector{}, candidates, kind)
			require.NoError(t, err, kind)
			assert.Equal(t, []string{"empty", "x"}, ids(ranking.Results), kind)
			for _, r := range ranking.Results {
				assert.True(t, math.IsNaN(float64(r.Score)), kind)
			}
			assert.Empty(t, ranking.Rejected, kind)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		engine := NewEngine(WithLogger(quiet))
		_, err := engine.Rank(context.Background(), vector.Vector{1}, nil, KindAccelerator)
		assert.ErrorIs(t, err, gpu.ErrInitFailed)
	})

	t.Run("unavailable fails whole request", func(t *testing.T) {
		accel := gpu.NewAccelerator(&gpu.Config{Enabled: false}, gpu.WithLogger(quiet))
		engine := NewEngine(WithAccelerator(accel), WithLogger(quiet))

		ranking, err := engine.Rank(context.Background(), vector.Vector{1}, []Candidate{{ID: "a", Vector: vector.Vector{1}}}, KindAccelerator)
		assert.Nil(t, ranking)
		assert.ErrorIs(t, err, gpu.ErrInitFailed)
	})

	t.Run("device failure aborts with candidate id", func(t *testing.T) {
		accel := emulatorAccelerator(t, emulator.Options{Fail: map[emulator.Op]int{emulator.OpLaunch: 1}})
		engine := NewEngine(WithAccelerator(accel), WithLogger(quiet))

		_, err := engine.Rank(context.Background(), vector.Vector{1, 0}, []Candidate{
			{ID: "first", Vector: vector.Vector{1, 0}},
			{ID: "second", Vector: vector.Vector{0, 1}},
		}, KindAccelerator)
		assert.ErrorIs(t, err, gpu.ErrLaunchFailed)
		assert.Contains(t, err.Error(), `"second"`)
	})
}

func TestRankBackendErrors(t *testing.T) {
	t.Run("prepare", func(t *testing.T) {
		boom := errors.New("prepare failed")
		engine := NewEngine(WithBackend(&fixedBackend{kind: KindCPU, prep: boom}), WithLogger(quiet))
		_, err := engine.Rank(context.Background(), vector.Vector{1}, nil, KindCPU)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("score", func(t *testing.T) {
		boom := errors.New("score failed")
		engine := NewEngine(WithBackend(&fixedBackend{kind: KindCPU, err: boom}), WithLogger(quiet))
		_, err := engine.Rank(context.Background(), vector.Vector{1}, []Candidate{{ID: "x", Vector: vector.Vector{1}}}, KindCPU)
		assert.ErrorIs(t, err, boom)
	})
}

func TestRankingTop(t *testing.T) {
	r := &Ranking{Results: []ScoredDocument{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	assert.Len(t, r.Top(2), 2)
	assert.Len(t, r.Top(0), 3)
	assert.Len(t, r.Top(10), 3)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindCPU, "CPU": KindCPU, "gpu": KindAccelerator, "accelerator": KindAccelerator} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("quantum")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func BenchmarkRank(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	query := make(vector.Vector, 384)
	for i := range query {
		query[i] = rng.Float32()
	}
	candidates := make([]Candidate, 10000)
	for i := range candidates {
		v := make(vector.Vector, 384)
		for j := range v {
			v[j] = rng.Float32()
		}
		candidates[i] = Candidate{ID: fmt.Sprint(i), Vector: v}
	}

	for _, workers := range []int{1, 4} {
		engine := NewEngine(WithWorkers(workers), WithLogger(quiet))
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = engine.Rank(context.Background(), query, candidates, KindCPU)
			}
		})
	}
}
