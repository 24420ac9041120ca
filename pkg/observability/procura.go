package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Domain attribute keys shared across instruments.
var (
	AttrTenantID = attribute.Key("procura.tenant_id")
	AttrScope    = attribute.Key("procura.sync.scope")
	AttrOutcome  = attribute.Key("procura.outcome")
)

// WorkerMetrics are the outbox worker's instruments. A zero value built
// against the global no-op meter records nothing.
type WorkerMetrics struct {
	Processed       metric.Int64Counter
	Succeeded       metric.Int64Counter
	Requeued        metric.Int64Counter
	Failed          metric.Int64Counter
	DeadLetter      metric.Int64Counter
	ContractInvalid metric.Int64Counter
	RetryBackoff    metric.Float64Histogram
}

// NewWorkerMetrics registers the outbox instruments on the meter.
func NewWorkerMetrics(meter metric.Meter) (*WorkerMetrics, error) {
	m := &WorkerMetrics{}
	var err error

	if m.Processed, err = meter.Int64Counter("procura.outbox.processed.total",
		metric.WithDescription("Outbox jobs leased and handled"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.Succeeded, err = meter.Int64Counter("procura.outbox.succeeded.total",
		metric.WithDescription("Outbox jobs delivered to the ERP"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.Requeued, err = meter.Int64Counter("procura.outbox.requeued.total",
		metric.WithDescription("Outbox jobs requeued after a temporary failure or open circuit"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.Failed, err = meter.Int64Counter("procura.outbox.failed.total",
		metric.WithDescription("Outbox attempts that failed"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.DeadLetter, err = meter.Int64Counter("procura.outbox.dead_letter.total",
		metric.WithDescription("Outbox jobs moved to dead-letter"),
		metric.WithUnit("{job}")); err != nil {
		return nil, err
	}
	if m.ContractInvalid, err = meter.Int64Counter("procura.erp_contract_invalid.total",
		metric.WithDescription("Canonical envelopes rejected by schema validation"),
		metric.WithUnit("{envelope}")); err != nil {
		return nil, err
	}
	if m.RetryBackoff, err = meter.Float64Histogram("procura.outbox.retry_backoff.seconds",
		metric.WithDescription("Backoff scheduled before outbox retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600)); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterCircuitGauge exports the breaker state as a gauge with one series
// per state, 1 on the active state and 0 elsewhere.
func RegisterCircuitGauge(meter metric.Meter, state func() string) error {
	gauge, err := meter.Int64ObservableGauge("procura.erp_circuit.state",
		metric.WithDescription("ERP circuit breaker state"))
	if err != nil {
		return err
	}
	states := []string{"closed", "open", "half_open"}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		current := state()
		for _, s := range states {
			v := int64(0)
			if s == current {
				v = 1
			}
			o.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("state", s)))
		}
		return nil
	}, gauge)
	return err
}
