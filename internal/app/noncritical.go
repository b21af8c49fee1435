package app

import (
	"context"

	"go.uber.org/zap"
)

// nonCritical runs a best-effort call whose failure must never reach the state machine.
func nonCritical(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Warn("non-critical call failed", zap.String("op", op), zap.Error(err))
	}
}
