package learning

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/embed"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
)

// ChromemStore keeps learning records in chromem-go, an embedded pure-Go
// vector database. With a path it persists to gob files; without one it
// lives in memory. Adding a document under an existing id replaces it,
// which is exactly the idempotence Push needs.
type ChromemStore struct {
	db       *chromem.DB
	embedder embed.Provider
	logger   *logging.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	closed bool
}

// ChromemOption adjusts a ChromemStore.
type ChromemOption func(*ChromemStore)

// WithChromemLogger sets the store logger.
func WithChromemLogger(logger *logging.Logger) ChromemOption {
	return func(s *ChromemStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChromemTracer sets the tracer for store spans.
func WithChromemTracer(tracer trace.Tracer) ChromemOption {
	return func(s *ChromemStore) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewChromemStore opens (or creates) the database at path, or an
// in-memory one when path is empty.
func NewChromemStore(path string, embedder embed.Provider, opts ...ChromemOption) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err = os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
	}

	s := &ChromemStore{
		db:       db,
		embedder: embedder,
		logger:   logging.Nop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// embeddingFunc adapts the provider for chromem's query-time embedding.
// GetCollection must always receive it: passing nil makes chromem fall
// back to its OpenAI default.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(tag string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(collectionName(tag), nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection for tag %q: %w", tag, err)
	}
	return col, nil
}

// Push stores one record. Same id, same slot: re-pushing is a no-op
// apart from refreshing the stored copy.
func (s *ChromemStore) Push(ctx context.Context, rec Record) error {
	return s.PushBatch(ctx, []Record{rec})
}

// PushBatch stores records in one embedding round-trip.
func (s *ChromemStore) PushBatch(ctx context.Context, recs []Record) error {
	ctx, span := s.tracer.Start(ctx, "learning.chromem.push")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(recs)))

	if len(recs) == 0 {
		return nil
	}
	if err := s.guard(); err != nil {
		return err
	}

	texts := make([]string, len(recs))
	for i, rec := range recs {
		texts[i] = rec.Document()
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: embedding records: %v", ErrSyncFailed, err)
	}

	// Group by tag; collections are per tag.
	byTag := make(map[string][]chromem.Document)
	for i, rec := range recs {
		byTag[rec.Tag] = append(byTag[rec.Tag], chromem.Document{
			ID:        rec.ID,
			Content:   rec.Document(),
			Metadata:  rec.Metadata(),
			Embedding: vectors[i],
		})
	}

	for tag, docs := range byTag {
		col, err := s.collection(tag)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
		// Embeddings are precomputed, nothing to parallelize.
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: adding documents: %v", ErrSyncFailed, err)
		}
	}

	s.logger.Debug(ctx, "records pushed to chromem",
		zap.Int("count", len(recs)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Pull retrieves up to k records under tag ranked by similarity.
func (s *ChromemStore) Pull(ctx context.Context, tag, query string, k int) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "learning.chromem.pull")
	defer span.End()

	if err := s.guard(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidConfig)
	}

	col := s.db.GetCollection(collectionName(tag), s.embeddingFunc())
	if col == nil {
		return nil, nil
	}

	// chromem requires k <= stored document count.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	recs := make([]Record, len(results))
	for i, res := range results {
		recs[i] = recordFromMetadata(res.ID, res.Metadata)
		recs[i].Tag = tag
	}
	span.SetAttributes(attribute.Int("result_count", len(recs)))
	span.SetStatus(codes.Ok, "")
	return recs, nil
}

// Count reports how many records are filed under tag.
func (s *ChromemStore) Count(ctx context.Context, tag string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collectionName(tag), s.embeddingFunc())
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Close marks the store closed. chromem persists on write, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ChromemStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

var _ Store = (*ChromemStore)(nil)
