package embed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument wraps a provider with otel metrics: generation duration,
// batch sizes, and error counts, labeled by model and operation. A nil
// meter returns the provider unwrapped.
func Instrument(p Provider, meter metric.Meter, model string) Provider {
	if meter == nil {
		return p
	}

	ip := &instrumentedProvider{Provider: p, model: model}
	ip.duration, _ = meter.Float64Histogram(
		"embed.generation.duration",
		metric.WithDescription("Embedding generation duration by model and operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10),
	)
	ip.batchSize, _ = meter.Int64Histogram(
		"embed.generation.batch_size",
		metric.WithDescription("Number of texts per embedding batch."),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250),
	)
	ip.errors, _ = meter.Int64Counter(
		"embed.generation.errors",
		metric.WithDescription("Embedding generation failures by model and operation."),
	)
	return ip
}

type instrumentedProvider struct {
	Provider
	model string

	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

func (p *instrumentedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := p.Provider.EmbedDocuments(ctx, texts)
	p.record(ctx, "batch_embed", time.Since(start), len(texts), err)
	return vectors, err
}

func (p *instrumentedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := p.Provider.EmbedQuery(ctx, text)
	p.record(ctx, "embed", time.Since(start), 0, err)
	return vector, err
}

func (p *instrumentedProvider) record(ctx context.Context, op string, elapsed time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", p.model),
		attribute.String("operation", op),
	)
	if p.duration != nil {
		p.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if batch > 0 && p.batchSize != nil {
		p.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && p.errors != nil {
		p.errors.Add(ctx, 1, attrs)
	}
}
