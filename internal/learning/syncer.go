package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/telemetry"
)

const (
	// DefaultSyncInterval is how often the background syncer drains
	// the retry queue.
	DefaultSyncInterval = 5 * time.Second

	// DefaultRatePerSecond limits pushes to the store.
	DefaultRatePerSecond = 10

	// DefaultTag files records when the caller passes none.
	DefaultTag = "agentjj"

	// drainBatchSize bounds how many queued records one drain pass
	// attempts.
	drainBatchSize = 32

	// drainParallelism bounds concurrent pushes during a drain pass.
	drainParallelism = 4

	// pushTimeout bounds a single store round-trip on the hook path.
	pushTimeout = 10 * time.Second

	// retryMaxElapsed bounds the per-record backoff during a drain.
	retryMaxElapsed = 30 * time.Second
)

// Statistics summarizes what the learning layer has seen.
type Statistics struct {
	// Total counts stored records when sync is enabled; otherwise it
	// counts operations in the local log.
	Total int `json:"total"`

	// SuccessRate is the fraction of logged operations that exited
	// zero, in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// ByClassification counts logged operations per complexity.
	ByClassification map[string]int `json:"by_classification"`

	// QueueDepth is how many failed pushes await retry.
	QueueDepth int `json:"queue_depth"`

	// Dropped counts records the retry queue has evicted.
	Dropped uint64 `json:"dropped"`

	// Source is "store" when Total came from the learning store,
	// "local" when it came from the operation log.
	Source string `json:"source"`
}

// Adapter sits between the hook coordinator and the learning store. It
// forwards records best-effort, queues failures for retry, and answers
// statistics queries. A nil store disables sync while keeping local
// statistics available.
type Adapter struct {
	store  Store
	log    *oplog.Log
	relay  *Relay
	logger *logging.Logger

	queue    *retryQueue
	limiter  *rate.Limiter
	tag      string
	interval time.Duration

	pushed   metric.Int64Counter
	failures metric.Int64Counter
	drops    metric.Int64Counter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// AdapterOption adjusts an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the adapter logger.
func WithAdapterLogger(logger *logging.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRelay attaches a NATS relay; every synced operation is also
// published as an event.
func WithRelay(relay *Relay) AdapterOption {
	return func(a *Adapter) {
		a.relay = relay
	}
}

// WithQueueCapacity bounds the retry queue.
func WithQueueCapacity(n int) AdapterOption {
	return func(a *Adapter) {
		a.queue = newRetryQueue(n)
	}
}

// WithSyncInterval sets how often the background syncer runs.
func WithSyncInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithRateLimit caps pushes per second.
func WithRateLimit(perSecond float64) AdapterOption {
	return func(a *Adapter) {
		if perSecond > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
		}
	}
}

// WithDefaultTag sets the tag used when callers pass none.
func WithDefaultTag(tag string) AdapterOption {
	return func(a *Adapter) {
		if tag != "" {
			a.tag = tag
		}
	}
}

// WithAdapterTelemetry registers sync metrics on the given provider.
func WithAdapterTelemetry(tel *telemetry.Telemetry) AdapterOption {
	return func(a *Adapter) {
		if tel == nil {
			return
		}
		meter := tel.Meter("agentjj/learning")
		a.pushed, _ = meter.Int64Counter("learning.sync.pushed",
			metric.WithDescription("Records pushed to the learning store"))
		a.failures, _ = meter.Int64Counter("learning.sync.failures",
			metric.WithDescription("Store pushes that failed and were queued"))
		a.drops, _ = meter.Int64Counter("learning.queue.dropped",
			metric.WithDescription("Records evicted from the full retry queue"))
	}
}

// NewAdapter builds an adapter over store. The operation log is
// required for local statistics; the store may be nil when sync is
// disabled.
func NewAdapter(store Store, log *oplog.Log, opts ...AdapterOption) (*Adapter, error) {
	if log == nil {
		return nil, errors.New("learning: operation log is required")
	}

	a := &Adapter{
		store:    store,
		log:      log,
		logger:   logging.Nop(),
		queue:    newRetryQueue(DefaultQueueCapacity),
		limiter:  rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRatePerSecond+1),
		tag:      DefaultTag,
		interval: DefaultSyncInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// SyncOperation forwards one operation record. A store failure queues
// the record and returns ErrSyncFailed; the caller logs it and moves
// on.
func (a *Adapter) SyncOperation(ctx context.Context, op oplog.Operation, tag string) error {
	if tag == "" {
		tag = a.tag
	}
	rec := FromOperation(op, tag)

	if a.relay != nil {
		a.relay.PublishOperation(ctx, op)
	}
	if a.store == nil {
		return nil
	}

	// Over the rate limit the record is deferred, not failed: the
	// background syncer will push it.
	if !a.limiter.Allow() {
		a.queueForRetry(ctx, rec, "rate limited")
		return nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := a.store.Push(pushCtx, rec); err != nil {
		a.queueForRetry(ctx, rec, "push failed")
		a.add(ctx, a.failures, 1)
		return wrapSyncErr(err)
	}

	a.add(ctx, a.pushed, 1)
	return nil
}

// SyncBatch forwards a task's records in one store round-trip.
func (a *Adapter) SyncBatch(ctx context.Context, ops []oplog.Operation, tag string) error {
	if len(ops) == 0 || a.store == nil {
		return nil
	}
	if tag == "" {
		tag = a.tag
	}

	recs := make([]Record, len(ops))
	for i, op := range ops {
		recs[i] = FromOperation(op, tag)
	}

	if !a.limiter.AllowN(time.Now(), len(recs)) {
		for _, rec := range recs {
			a.queueForRetry(ctx, rec, "rate limited")
		}
		return nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := a.store.PushBatch(pushCtx, recs); err != nil {
		for _, rec := range recs {
			a.queueForRetry(ctx, rec, "batch push failed")
		}
		a.add(ctx, a.failures, int64(len(recs)))
		return wrapSyncErr(err)
	}

	a.add(ctx, a.pushed, int64(len(recs)))
	return nil
}

// Statistics reports totals and rates for tag. Totals come from the
// store when sync is enabled and the store answers; everything else is
// computed from the local operation log.
func (a *Adapter) Statistics(ctx context.Context, tag string) Statistics {
	if tag == "" {
		tag = a.tag
	}

	ops := a.log.Snapshot()
	stats := Statistics{
		Total:            len(ops),
		ByClassification: make(map[string]int),
		QueueDepth:       a.queue.len(),
		Dropped:          a.queue.droppedCount(),
		Source:           "local",
	}

	successes := 0
	for _, op := range ops {
		if op.Success {
			successes++
		}
		stats.ByClassification[string(op.Classification.Complexity)]++
	}
	if len(ops) > 0 {
		stats.SuccessRate = float64(successes) / float64(len(ops))
	}

	if a.store != nil {
		if total, err := a.store.Count(ctx, tag); err == nil {
			stats.Total = total
			stats.Source = "store"
		} else {
			a.logger.Warn(ctx, "learning store count failed, using local log",
				zap.String("tag", tag), zap.Error(err))
		}
	}
	return stats
}

// Pull retrieves records similar to query from the store. It returns
// nothing when sync is disabled.
func (a *Adapter) Pull(ctx context.Context, tag, query string, k int) ([]Record, error) {
	if a.store == nil {
		return nil, nil
	}
	if tag == "" {
		tag = a.tag
	}
	return a.store.Pull(ctx, tag, query, k)
}

// QueueDepth reports how many records await retry.
func (a *Adapter) QueueDepth() int {
	return a.queue.len()
}

// Start launches the background syncer. It returns immediately; the
// syncer stops when ctx is cancelled or Close is called.
func (a *Adapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go a.run(ctx)
	})
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.drainOnce(ctx)
		}
	}
}

// drainOnce pushes up to drainBatchSize queued records, a few at a
// time, each with exponential backoff. Records that still fail go back
// to the front of the queue for the next pass.
func (a *Adapter) drainOnce(ctx context.Context) {
	if a.store == nil {
		return
	}
	batch := a.queue.drain(drainBatchSize)
	if len(batch) == 0 {
		return
	}

	failed := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(drainParallelism)

	for i, rec := range batch {
		g.Go(func() error {
			if err := a.limiter.Wait(gctx); err != nil {
				failed[i] = true
				return nil
			}

			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = retryMaxElapsed
			err := backoff.Retry(func() error {
				return a.store.Push(gctx, rec)
			}, backoff.WithContext(bo, gctx))
			if err != nil {
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var requeue []Record
	pushed := 0
	for i, rec := range batch {
		if failed[i] {
			requeue = append(requeue, rec)
		} else {
			pushed++
		}
	}
	if pushed > 0 {
		a.add(ctx, a.pushed, int64(pushed))
	}
	if len(requeue) > 0 {
		a.queue.requeue(requeue)
		a.add(ctx, a.failures, int64(len(requeue)))
		a.logger.Warn(ctx, "retry drain left records queued",
			zap.Int("pushed", pushed),
			zap.Int("requeued", len(requeue)),
			zap.Int("queue_depth", a.queue.len()))
	} else {
		a.logger.Debug(ctx, "retry queue drained",
			zap.Int("pushed", pushed))
	}
}

// Close stops the background syncer and closes the relay and store.
func (a *Adapter) Close() error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
		if a.relay != nil {
			errs = append(errs, a.relay.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
	})
	return errors.Join(errs...)
}

func (a *Adapter) queueForRetry(ctx context.Context, rec Record, reason string) {
	if a.queue.enqueue(rec) {
		a.add(ctx, a.drops, 1)
	}
	a.logger.Debug(ctx, "learning record queued for retry",
		zap.String("operation_id", rec.ID),
		zap.String("reason", reason),
		zap.Int("queue_depth", a.queue.len()))
}

func (a *Adapter) add(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}

func wrapSyncErr(err error) error {
	if errors.Is(err, ErrSyncFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSyncFailed, err)
}
