package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperationMetricsCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewOperationMetrics(registry)
	ctx := context.Background()

	recorder.LogOperation(ctx, escrow.OperationLog{Operation: "place_bid", Status: "ok", Amount: 1200})
	recorder.LogOperation(ctx, escrow.OperationLog{Operation: "place_bid", Status: "ok", Amount: 1500})
	recorder.LogOperation(ctx, escrow.OperationLog{Operation: "place_bid", Status: "ok", Amount: 1500, Metadata: "replay"})
	recorder.LogOperation(ctx, escrow.OperationLog{Operation: "place_bid", Status: "error", Amount: 900, Error: escrow.ErrBidTooLow})
	recorder.LogOperation(ctx, escrow.OperationLog{Operation: "accept_bid", Status: "ok", Amount: 1500})
	recorder.LogOperation(ctx, escrow.OperationLog{Status: "error", Error: errors.New("boom")})

	assert.Equal(t, float64(3), testutil.ToFloat64(recorder.operations.WithLabelValues("place_bid", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.operations.WithLabelValues("place_bid", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.operations.WithLabelValues("unknown", "error")))
	assert.Equal(t, float64(2700), testutil.ToFloat64(recorder.amounts.WithLabelValues("place_bid")))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.amounts))
}

func TestNilRegistererIsNoop(t *testing.T) {
	recorder := NewOperationMetrics(nil)
	recorder.LogOperation(context.Background(), escrow.OperationLog{Operation: "deposit", Status: "ok", Amount: 100})

	var missing *OperationMetrics
	missing.LogOperation(context.Background(), escrow.OperationLog{Operation: "deposit"})
}
