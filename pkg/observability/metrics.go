// Package observability wires the engine's OpenTelemetry instruments.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the engine instruments. Counters are incremented by the
// HTTP middleware, the store, the model router and the job fabric; queue
// depth is observed from the fabric on every collection.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	HTTPRequests metric.Int64Counter
	Appends      metric.Int64Counter
	LLMCalls     metric.Int64Counter
	JobsRun      metric.Int64Counter
}

// New builds the meter provider and instruments. queueDepth is sampled on
// every metrics collection.
func New(queueDepth func(ctx context.Context) int64) (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(provider)
	meter := provider.Meter("github.com/Mindburn-Labs/corpus")

	m := &Metrics{provider: provider}
	var err error

	if m.HTTPRequests, err = meter.Int64Counter("corpus.http.requests",
		metric.WithDescription("HTTP requests served")); err != nil {
		return nil, err
	}
	if m.Appends, err = meter.Int64Counter("corpus.store.appends",
		metric.WithDescription("records appended to the corpus")); err != nil {
		return nil, err
	}
	if m.LLMCalls, err = meter.Int64Counter("corpus.llm.calls",
		metric.WithDescription("model calls routed")); err != nil {
		return nil, err
	}
	if m.JobsRun, err = meter.Int64Counter("corpus.jobs.run",
		metric.WithDescription("jobs executed to a terminal status")); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge("corpus.jobs.queue_depth",
		metric.WithDescription("pending jobs in the broker"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(queueDepth(ctx))
			return nil
		})); err != nil {
		return nil, err
	}
	return m, nil
}

// Shutdown flushes and stops the provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
