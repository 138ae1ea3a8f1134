package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/embed"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
)

const (
	qdrantMaxRetries       = 3
	qdrantRetryBackoff     = time.Second
	qdrantBreakerThreshold = 5
	qdrantBreakerCooldown  = 30 * time.Second
)

// QdrantStore keeps learning records in a remote qdrant instance over
// gRPC. Point ids are UUIDv5 hashes of the operation id, so upserting
// the same operation twice lands on the same point.
type QdrantStore struct {
	client   *qdrant.Client
	embedder embed.Provider
	logger   *logging.Logger
	tracer   trace.Tracer

	// collections caches which collections exist to skip repeated
	// lookups on the hot push path.
	collections sync.Map

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// QdrantOption adjusts a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithQdrantLogger sets the store logger.
func WithQdrantLogger(logger *logging.Logger) QdrantOption {
	return func(s *QdrantStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQdrantTracer sets the tracer for store spans.
func WithQdrantTracer(tracer trace.Tracer) QdrantOption {
	return func(s *QdrantStore) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewQdrantStore connects to qdrant and verifies the connection with a
// health check.
func NewQdrantStore(cfg config.QdrantConfig, embedder embed.Provider, opts ...QdrantOption) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, cfg.Port)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		logger:   logging.Nop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	return s, nil
}

// Push stores one record.
func (s *QdrantStore) Push(ctx context.Context, rec Record) error {
	return s.PushBatch(ctx, []Record{rec})
}

// PushBatch stores records in one upsert per tag.
func (s *QdrantStore) PushBatch(ctx context.Context, recs []Record) error {
	ctx, span := s.tracer.Start(ctx, "learning.qdrant.push")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(recs)))

	if len(recs) == 0 {
		return nil
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

	byTag := make(map[string][]*qdrant.PointStruct)
	for i, rec := range recs {
		payload := map[string]any{"content": rec.Document(), "id": rec.ID}
		for k, v := range rec.Metadata() {
			payload[k] = v
		}
		byTag[rec.Tag] = append(byTag[rec.Tag], &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	for tag, points := range byTag {
		name := collectionName(tag)
		if err := s.ensureCollection(ctx, name); err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
		err := s.retry(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         points,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: upserting points: %v", ErrSyncFailed, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Pull retrieves up to k records under tag ranked by similarity.
func (s *QdrantStore) Pull(ctx context.Context, tag, query string, k int) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "learning.qdrant.pull")
	defer span.End()

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidConfig)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collectionName(tag),
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if status.Code(err) == grpccodes.NotFound {
				// Nothing filed under this tag yet.
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	recs := make([]Record, 0, len(points))
	for _, point := range points {
		meta := make(map[string]string, len(point.Payload))
		for key, val := range point.Payload {
			if sv, ok := val.Kind.(*qdrant.Value_StringValue); ok {
				meta[key] = sv.StringValue
			}
		}
		rec := recordFromMetadata(meta["id"], meta)
		rec.Tag = tag
		recs = append(recs, rec)
	}
	span.SetAttributes(attribute.Int("result_count", len(recs)))
	span.SetStatus(codes.Ok, "")
	return recs, nil
}

// Count reports how many records are filed under tag.
func (s *QdrantStore) Count(ctx context.Context, tag string) (int, error) {
	var count uint64
	err := s.retry(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collectionName(tag),
		})
		if err != nil {
			if status.Code(err) == grpccodes.NotFound {
				return nil
			}
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(count), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	if _, ok := s.collections.Load(name); ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.embedder.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info(ctx, "created qdrant collection",
			zap.String("collection", name))
	}

	s.collections.Store(name, true)
	return nil
}

// retry runs op with exponential backoff on transient gRPC failures,
// guarded by a small circuit breaker so a dead server does not soak up
// every push in timeouts.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := qdrantRetryBackoff
	for attempt := 0; ; attempt++ {
		if s.breakerOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}

		err := op()
		if err == nil {
			s.breakerReset()
			return nil
		}
		if !transientError(err) {
			return fmt.Errorf("%s: %w", name, err)
		}

		s.breakerRecord()
		if attempt == qdrantMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, qdrantMaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) breakerRecord() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) breakerReset() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) breakerOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < qdrantBreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > qdrantBreakerCooldown {
		s.breaker.failures = 0
		return false
	}
	return true
}

// transientError reports whether a gRPC failure is worth retrying.
func transientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// pointID derives a stable UUID from an operation id. UUIDv5 is a
// name-based hash: the same operation always maps to the same point.
func pointID(operationID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(operationID)).String()
}

var _ Store = (*QdrantStore)(nil)
