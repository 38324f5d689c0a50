package service

import (
	"context"
	"time"
)

// retryLoop periodically walks the pending users index and re-attempts
// delivery for each queued envelope.
func (e *Engine) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PendingRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.retryCycle(ctx)
		}
	}
}

func (e *Engine) retryCycle(ctx context.Context) {
	defer e.recoverPanic("retry")

	users, err := e.pending.PendingUsers(ctx)
	if err != nil {
		e.logger.Warn("pending index scan failed", "err", err)
		return
	}
	if len(users) == 0 {
		return
	}

	e.logger.Debug("retrying pending queues", "users", len(users))
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		e.retryUser(ctx, userID)
	}
}
