package circulation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestCirculationCounters(t *testing.T) {
	f := newFixture(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })
	f.svc = NewService(f.db, f.ledger, f.books, f.users,
		WithClock(f.clock.Now),
		WithMeter(mp.Meter("libraryhub/circulation")),
	)

	ctx := context.Background()
	book := f.book(t, 2)
	a, b := f.user(t), f.user(t)

	late, err := f.svc.IssueBook(ctx, book.ID, a.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.IssueBook(ctx, book.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ReturnBook(ctx, book.ID, b.ID)
	require.NoError(t, err)

	f.clock.Advance(DefaultLoanPeriod + 2*Day)
	returned, err := f.svc.ReturnBook(ctx, book.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, 4, returned.Fine.Amount)
	_, err = f.svc.SettleFine(ctx, late.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.ReturnBook(ctx, book.ID, a.ID)
	require.ErrorIs(t, err, ErrNoActiveLoan)

	totals := counterTotals(t, reader)
	assert.Equal(t, int64(2), totals["library.issues"])
	assert.Equal(t, int64(2), totals["library.returns"])
	assert.Equal(t, int64(4), totals["library.fines.assessed"])
	assert.Equal(t, int64(4), totals["library.fines.settled"])
	assert.Zero(t, totals["library.circulation.conflicts"])
}
