// Package metrics exposes escrow operations as Prometheus counters.
package metrics

import (
	"context"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelOperation = "operation"
	labelStatus    = "status"
	unknownLabel   = "unknown"
	replayMetadata = "replay"
)

// moneyOperations move funds when they succeed.
var moneyOperations = map[string]struct{}{
	"deposit":   {},
	"withdraw":  {},
	"place_bid": {},
	"payout":    {},
}

// OperationMetrics counts escrow operations. It implements escrow.OperationLogger.
type OperationMetrics struct {
	operations *prometheus.CounterVec
	amounts    *prometheus.CounterVec
}

// NewOperationMetrics registers the collectors on reg. A nil registerer yields a no-op recorder.
func NewOperationMetrics(reg prometheus.Registerer) *OperationMetrics {
	if reg == nil {
		return &OperationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Escrow operations by outcome.",
	}, []string{labelOperation, labelStatus})
	amounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operation_amount_cents_total",
		Help: "Cents moved by successful escrow operations.",
	}, []string{labelOperation})
	reg.MustRegister(operations, amounts)
	return &OperationMetrics{operations: operations, amounts: amounts}
}

func (metrics *OperationMetrics) LogOperation(_ context.Context, entry escrow.OperationLog) {
	if metrics == nil || metrics.operations == nil {
		return
	}
	operation := normalizeLabel(entry.Operation)
	metrics.operations.WithLabelValues(operation, normalizeLabel(entry.Status)).Inc()
	if entry.Error != nil || entry.Amount <= 0 || entry.Metadata == replayMetadata {
		return
	}
	if _, moves := moneyOperations[operation]; moves {
		metrics.amounts.WithLabelValues(operation).Add(float64(entry.Amount.Int64()))
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return unknownLabel
	}
	return value
}
