package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

const meterName = "notify-delivery-service/engine"

// engineMetrics is the observability contract: a gauge for locally connected
// users plus counters for the delivery paths. No exporter is configured
// here; without an SDK the instruments are no-ops.
type engineMetrics struct {
	attrs metric.MeasurementOption

	streamConsumed  metric.Int64Counter
	fanoutSent      metric.Int64Counter
	fanoutReceived  metric.Int64Counter
	pendingEnqueued metric.Int64Counter
	retrySucceeded  metric.Int64Counter
	retryFailed     metric.Int64Counter
	dlqAppended     metric.Int64Counter
}

func newEngineMetrics(instanceID string, hub *registry.Hub) *engineMetrics {
	meter := otel.Meter(meterName)
	attrs := metric.WithAttributes(attribute.String("instance.id", instanceID))

	m := &engineMetrics{attrs: attrs}
	m.streamConsumed, _ = meter.Int64Counter("notify.stream.consumed")
	m.fanoutSent, _ = meter.Int64Counter("notify.fanout.sent")
	m.fanoutReceived, _ = meter.Int64Counter("notify.fanout.received")
	m.pendingEnqueued, _ = meter.Int64Counter("notify.pending.enqueued")
	m.retrySucceeded, _ = meter.Int64Counter("notify.retry.succeeded")
	m.retryFailed, _ = meter.Int64Counter("notify.retry.failed")
	m.dlqAppended, _ = meter.Int64Counter("notify.dlq.appended")

	_, _ = meter.Int64ObservableGauge("notify.connected_users",
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(hub.Len()), attrs)
			return nil
		}),
	)
	return m
}
