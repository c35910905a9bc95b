// Package similarity ranks candidate vectors against a query by cosine
// similarity on a selectable backend.
//
// Ranking rules:
//   - scores are sorted descending; equal scores keep input order
//   - NaN scores (zero-magnitude vectors) follow every numeric score, in
//     input order
//   - a candidate whose length differs from the query is rejected with
//     vector.ErrDimensionMismatch and the rest of the batch still ranks
//   - an accelerator that cannot start fails the request with
//     gpu.ErrInitFailed; there is no silent CPU fallback
//
// Example:
//
//	engine := similarity.NewEngine(similarity.WithWorkers(4))
//	ranking, err := engine.Rank(ctx, query, candidates, similarity.KindCPU)
//	for _, r := range ranking.Results {
//		fmt.Println(r.ID, r.Score)
//	}
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/vecrank/pkg/gpu"
	"github.com/orneryd/vecrank/pkg/metrics"
	"github.com/orneryd/vecrank/pkg/vector"
)

// Errors
var (
	ErrUnknownKind   = errors.New("similarity: unknown backend kind")
	ErrNoAccelerator = errors.New("similarity: no accelerator configured")
)

// Candidate is a stored vector to rank.
type Candidate struct {
	ID     string
	Vector vector.Vector
}

// ScoredDocument is one ranked candidate.
type ScoredDocument struct {
	ID    string
	Score float32
}

// ItemError rejects one candidate without failing the batch.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string { return fmt.Sprintf("candidate %q: %v", e.ID, e.Err) }
func (e ItemError) Unwrap() error { return e.Err }

// Ranking is the result of Rank.
type Ranking struct {
	Results  []ScoredDocument
	Rejected []ItemError
}

// Top returns at most k results. k <= 0 returns all of them.
func (r *Ranking) Top(k int) []ScoredDocument {
	if k <= 0 || k >= len(r.Results) {
		return r.Results
	}
	return r.Results[:k]
}

// Engine ranks candidates. It is safe for concurrent use.
type Engine struct {
	cpu     Backend
	accel   Backend
	workers int
	logger  *log.Logger
	metrics metrics.Collector
}

// Option configures an Engine.
type Option func(*Engine)

// WithAccelerator enables KindAccelerator requests on accel.
func WithAccelerator(accel *gpu.Accelerator) Option {
	return func(e *Engine) {
		if accel != nil {
			e.accel = NewAcceleratorBackend(accel)
		}
	}
}

// WithBackend registers b for its kind, replacing the default.
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		switch b.Kind() {
		case KindCPU:
			e.cpu = b
		case KindAccelerator:
			e.accel = b
		}
	}
}

// WithWorkers fans CPU scoring out over n goroutines. n <= 1 scores
// sequentially. Accelerator scoring is always sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates an engine with a CPU backend.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cpu:     CPUBackend{},
		workers: 1,
		logger:  log.Default(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) backend(kind Kind) (Backend, error) {
	switch kind {
	case KindCPU, "":
		return e.cpu, nil
	case KindAccelerator:
		if e.accel == nil {
			return nil, &gpu.AcceleratorError{Stage: gpu.StageInit, Err: ErrNoAccelerator}
		}
		return e.accel, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Rank scores every candidate against query on the kind backend and
// returns them best first.
//
// Cancellation is checked between candidates; a single score is never
// interrupted.
func (e *Engine) Rank(ctx context.Context, query vector.Vector, candidates []Candidate, kind Kind) (ranking *Ranking, err error) {
	start := time.Now()
	defer func() {
		e.metrics.RecordOperation(ctx, "rank", metrics.Status(err), time.Since(start).Milliseconds())
	}()

	b, err := e.backend(kind)
	if err != nil {
		return nil, err
	}
	if err := b.Prepare(); err != nil {
		return nil, fmt.Errorf("similarity: %s backend: %w", b.Kind(), err)
	}

	scores := make([]float32, len(candidates))
	rejected := make([]error, len(candidates))

	if b.Kind() == KindCPU && e.workers > 1 && len(candidates) > 1 {
		err = e.scoreParallel(ctx, b, query, candidates, scores, rejected)
	} else {
		err = scoreRange(ctx, b, query, candidates, scores, rejected, 0, len(candidates))
	}
	if err != nil {
		return nil, err
	}

	ranking = &Ranking{Results: make([]ScoredDocument, 0, len(candidates))}
	for i, c := range candidates {
		if rejected[i] != nil {
			ranking.Rejected = append(ranking.Rejected, ItemError{ID: c.ID, Err: rejected[i]})
			continue
		}
		ranking.Results = append(ranking.Results, ScoredDocument{ID: c.ID, Score: scores[i]})
	}
	sortScores(ranking.Results)

	if len(ranking.Rejected) > 0 {
		e.logger.Printf("[ENGINE] ⚠️ %d of %d candidates rejected", len(ranking.Rejected), len(candidates))
	}
	return ranking, nil
}

func (e *Engine) scoreParallel(ctx context.Context, b Backend, query vector.Vector, candidates []Candidate, scores []float32, rejected []error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	chunk := (len(candidates) + e.workers - 1) / e.workers
	for lo := 0; lo < len(candidates); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(candidates))
		g.Go(func() error {
			return scoreRange(gctx, b, query, candidates, scores, rejected, lo, hi)
		})
	}
	return g.Wait()
}

// scoreRange scores candidates[lo:hi]. Dimension mismatches are recorded
// in rejected; any other error aborts.
func scoreRange(ctx context.Context, b Backend, query vector.Vector, candidates []Candidate, scores []float32, rejected []error, lo, hi int) error {
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := candidates[i]
		if len(c.Vector) != len(query) {
			rejected[i] = fmt.Errorf("%w: query has %d, candidate has %d",
				vector.ErrDimensionMismatch, len(query), len(c.Vector))
			continue
		}
		s, err := b.Score(query, c.Vector)
		if errors.Is(err, vector.ErrDimensionMismatch) {
			rejected[i] = err
			continue
		}
		if err != nil {
			return fmt.Errorf("similarity: candidate %q: %w", c.ID, err)
		}
		scores[i] = s
	}
	return nil
}

// sortScores orders by score descending. NaN sorts after every number.
// Ties, NaN included, keep input order.
func sortScores(results []ScoredDocument) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := results[i].Score, results[j].Score
		switch {
		case isNaN(si):
			return false
		case isNaN(sj):
			return true
		}
		return si > sj
	})
}

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }
