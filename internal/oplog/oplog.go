// Package oplog writes escrow operation logs.
package oplog

import (
	"context"
	"errors"

	"github.com/adgyapan/escrow/pkg/escrow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logMessage = "escrow operation"

// ZapLogger records operations at info on success, warn for business outcomes, and error otherwise.
type ZapLogger struct {
	logger *zap.Logger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (logger *ZapLogger) LogOperation(_ context.Context, entry escrow.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if listingID := entry.ListingID.String(); listingID != "" {
		fields = append(fields, zap.String("listing_id", listingID))
	}
	if bidID := entry.BidID.String(); bidID != "" {
		fields = append(fields, zap.String("bid_id", bidID))
	}
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Metadata != "" {
		fields = append(fields, zap.String("metadata", entry.Metadata))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	logger.logger.Log(levelFor(entry.Error), logMessage, fields...)
}

func levelFor(err error) zapcore.Level {
	switch {
	case err == nil:
		return zapcore.InfoLevel
	case errors.Is(err, escrow.ErrStorageFailure):
		return zapcore.ErrorLevel
	case escrow.IsBusinessError(err):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Fanout forwards each entry to every logger.
type Fanout []escrow.OperationLogger

func (fanout Fanout) LogOperation(ctx context.Context, entry escrow.OperationLog) {
	for _, logger := range fanout {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
