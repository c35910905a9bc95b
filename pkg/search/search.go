// Package search ties corpus, embedder, store and similarity engine
// together into the two operations vecrank exposes: indexing a directory
// of text files and ranking stored documents against a query.
//
// Example:
//
//	svc := search.NewService(store, embedder, similarity.NewEngine())
//	if _, err := svc.Index(ctx, "./texts"); err != nil {
//		log.Fatal(err)
//	}
//	res, err := svc.Query(ctx, "console.log()", similarity.KindCPU, 5)
//	for _, hit := range res.Hits {
//		fmt.Printf("%.4f %s\n", hit.Score, hit.Text)
//	}
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/vecrank/pkg/corpus"
	"github.com/orneryd/vecrank/pkg/embed"
	"github.com/orneryd/vecrank/pkg/metrics"
	"github.com/orneryd/vecrank/pkg/similarity"
	"github.com/orneryd/vecrank/pkg/storage"
)

// Errors
var (
	ErrEmptyQuery   = errors.New("search: query text is empty")
	ErrEmbedCount   = errors.New("search: embedder returned wrong number of vectors")
	ErrNoEmbeddings = errors.New("search: embedder returned an empty vector")
)

// DefaultBatchSize is how many documents go to the embedder per call.
const DefaultBatchSize = 32

// Service indexes and queries documents. It is safe for concurrent use as
// long as its collaborators are.
type Service struct {
	store     storage.Store
	embedder  embed.Embedder
	engine    *similarity.Engine
	logger    *log.Logger
	metrics   metrics.Collector
	batchSize int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBatchSize sets how many documents are embedded per call.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a service.
func NewService(store storage.Store, embedder embed.Embedder, engine *similarity.Engine, opts ...Option) *Service {
	if engine == nil {
		engine = similarity.NewEngine()
	}
	s := &Service{
		store:     store,
		embedder:  embedder,
		engine:    engine,
		logger:    log.Default(),
		metrics:   metrics.Noop{},
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexResult summarises an indexing run.
type IndexResult struct {
	Read   int      // documents read
	Stored int      // documents written
	IDs    []string // stored ids, in input order
}

// Index reads every *.txt file in dir, embeds it and stores it.
func (s *Service) Index(ctx context.Context, dir string) (*IndexResult, error) {
	docs, err := corpus.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("[INDEX] Read %d documents from %s", len(docs), dir)
	return s.IndexDocuments(ctx, docs)
}

// IndexDocuments embeds and stores docs. Documents already stored under the
// same id are replaced. On error, documents stored before the failure stay
// stored and are reported in the result.
func (s *Service) IndexDocuments(ctx context.Context, docs []corpus.Document) (res *IndexResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperation(ctx, "index", metrics.Status(err), time.Since(start).Milliseconds())
	}()

	res = &IndexResult{Read: len(docs)}
	for lo := 0; lo < len(docs); lo += s.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := docs[lo:min(lo+s.batchSize, len(docs))]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Text
		}

		t := time.Now()
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			s.metrics.RecordError(ctx, "index", "embed")
			return res, fmt.Errorf("search: embedding documents %d-%d: %w", lo, lo+len(batch)-1, err)
		}
		if len(vecs) != len(batch) {
			return res, fmt.Errorf("%w: got %d, want %d", ErrEmbedCount, len(vecs), len(batch))
		}
		s.metrics.RecordStage(ctx, "index", "embed", time.Since(t).Milliseconds())

		t = time.Now()
		for i, d := range batch {
			if len(vecs[i]) == 0 {
				return res, fmt.Errorf("%w: %s", ErrNoEmbeddings, d.Path)
			}
			err := s.store.Put(ctx, storage.Document{ID: d.ID, Text: d.Text, Vector: vecs[i]})
			if err != nil {
				s.metrics.RecordError(ctx, "index", "store")
				return res, fmt.Errorf("search: storing %s: %w", d.ID, err)
			}
			res.Stored++
			res.IDs = append(res.IDs, d.ID)
			s.logger.Printf("[INDEX] Stored embedding for document %d with key %s", lo+i, d.ID)
		}
		s.metrics.RecordStage(ctx, "index", "store", time.Since(t).Milliseconds())
	}

	s.updateCount(ctx)
	return res, nil
}

func (s *Service) updateCount(ctx context.Context) {
	n, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Printf("[INDEX] ⚠️ count failed: %v", err)
		return
	}
	s.metrics.SetStorageCount(ctx, "documents", int64(n))
}

// Hit is one ranked document.
type Hit struct {
	ID    string
	Text  string
	Score float32
}

// QueryResult is the answer to Query.
type QueryResult struct {
	RequestID  string
	Candidates int // documents considered
	Hits       []Hit
	Rejected   []similarity.ItemError
}

// Query embeds text and ranks every stored document against it on the kind
// backend. topK <= 0 returns every document. Documents whose embedding
// length differs from the query's are reported in Rejected.
func (s *Service) Query(ctx context.Context, text string, kind similarity.Kind, topK int) (res *QueryResult, err error) {
	reqID := uuid.NewString()
	start := time.Now()
	defer func() {
		s.metrics.RecordOperation(ctx, "query", metrics.Status(err), time.Since(start).Milliseconds())
		if err != nil {
			s.logger.Printf("[QUERY] %s ❌ %v", reqID, err)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	t := time.Now()
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.metrics.RecordError(ctx, "query", "embed")
		return nil, fmt.Errorf("search: embedding query: %w", err)
	}
	if len(query) == 0 {
		return nil, ErrNoEmbeddings
	}
	s.metrics.RecordStage(ctx, "query", "embed", time.Since(t).Milliseconds())

	t = time.Now()
	var candidates []similarity.Candidate
	texts := make(map[string]string)
	err = s.store.Enumerate(ctx, func(d storage.Document) error {
		candidates = append(candidates, similarity.Candidate{ID: d.ID, Vector: d.Vector})
		texts[d.ID] = d.Text
		return nil
	})
	if err != nil {
		s.metrics.RecordError(ctx, "query", "store")
		return nil, fmt.Errorf("search: reading store: %w", err)
	}
	s.metrics.RecordStage(ctx, "query", "enumerate", time.Since(t).Milliseconds())

	t = time.Now()
	ranking, err := s.engine.Rank(ctx, query, candidates, kind)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStage(ctx, "query", "rank", time.Since(t).Milliseconds())

	top := ranking.Top(topK)
	res = &QueryResult{
		RequestID:  reqID,
		Candidates: len(candidates),
		Hits:       make([]Hit, len(top)),
		Rejected:   ranking.Rejected,
	}
	for i, r := range top {
		res.Hits[i] = Hit{ID: r.ID, Text: texts[r.ID], Score: r.Score}
	}

	s.logger.Printf("[QUERY] %s ranked %d documents on %s in %v", reqID, len(candidates), kind, time.Since(start))
	return res, nil
}
