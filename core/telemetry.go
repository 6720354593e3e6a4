package core

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentation = "bdnprotocol/core"

var (
	requestCounterOnce sync.Once
	requestCounter     metric.Int64Counter
)

// countRequest exports the request outcome through the global OTel meter
// provider. Until a provider is installed the counter is inert.
func countRequest(ctx context.Context, op, kind string) {
	requestCounterOnce.Do(func() {
		c, err := otel.Meter(instrumentation).Int64Counter("bdn.protocol.requests",
			metric.WithDescription("Protocol requests by operation and outcome."),
			metric.WithUnit("{request}"))
		if err != nil {
			c, _ = noop.NewMeterProvider().Meter(instrumentation).Int64Counter("bdn.protocol.requests")
		}
		requestCounter = c
	})
	outcome := "ok"
	if kind != "" {
		outcome = kind
	}
	requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
