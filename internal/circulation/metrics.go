package circulation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	issued        metric.Int64Counter
	returned      metric.Int64Counter
	finesAssessed metric.Int64Counter
	finesSettled  metric.Int64Counter
	conflicts     metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.issued, "library.issues", "Books issued", "{issue}"},
		{&m.returned, "library.returns", "Books returned", "{issue}"},
		{&m.finesAssessed, "library.fines.assessed", "Fine amount assessed at return", "{unit}"},
		{&m.finesSettled, "library.fines.settled", "Fine amount paid", "{unit}"},
		{&m.conflicts, "library.circulation.conflicts", "Transactions retried after a version conflict", "{retry}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}
