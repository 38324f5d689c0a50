package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

// heartbeatLoop keeps sessions honest: idle clients are evicted, live ones
// get a heartbeat frame and a refreshed registry entry, and the shared
// registry is swept of entries whose owner stopped heartbeating.
func (e *Engine) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.heartbeatCycle(ctx)
		}
	}
}

func (e *Engine) heartbeatCycle(ctx context.Context) {
	defer e.recoverPanic("heartbeat")

	timeout := e.cfg.ClientTimeout()
	frame, err := json.Marshal(model.NewHeartbeat(e.instanceID))
	if err != nil {
		e.logger.Error("heartbeat marshal failed", "err", err)
		return
	}

	var stale []*registry.Session
	for userID, s := range e.hub.Snapshot() {
		// Timed-out sessions are marked before any frame is sent so a
		// heartbeat cannot resurrect a silent client.
		if s.IdleFor(timeout) {
			stale = append(stale, s)
			continue
		}
		if !s.Send(frame, sendTimeout) {
			stale = append(stale, s)
			continue
		}
		// Re-write the registry entry for every live session. This both
		// heals lost entries and keeps long-lived sessions ahead of the
		// sweep horizon.
		if err := e.registry.Put(ctx, userID); err != nil {
			e.logger.Warn("registry refresh failed", "user_id", userID, "err", err)
		}
	}

	for _, s := range stale {
		e.logger.Info("evicting inactive session", "user_id", s.UserID())
		e.disconnectSession(s)
	}

	if removed := e.registry.Sweep(ctx, registryGCHorizon); removed > 0 {
		e.logger.Info("registry sweep removed stale entries", "count", removed)
	}
}
