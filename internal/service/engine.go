// Package service implements the delivery engine: the concurrent loops that
// move notifications from the ingestion log, the fan-out bus and the
// external ingress onto live websocket sessions, with the pending store as
// the durable fallback.
package service

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsegrid/notify-delivery-service/config"
	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

// registryGCHorizon is how old a registry entry may grow before the sweeper
// reclaims it. Live sessions survive because heartbeats re-write their
// entries every cycle.
const registryGCHorizon = time.Hour

type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	instanceID string

	hub      *registry.Hub
	registry *coordinator.ConnectionRegistry
	pending  *coordinator.PendingStore
	log      *coordinator.IngestionLog
	bus      *coordinator.Bus

	metrics *engineMetrics

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	hub *registry.Hub,
	reg *coordinator.ConnectionRegistry,
	pending *coordinator.PendingStore,
	log *coordinator.IngestionLog,
	bus *coordinator.Bus,
) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine", "instance_id", cfg.InstanceID),
		instanceID: cfg.InstanceID,
		hub:        hub,
		registry:   reg,
		pending:    pending,
		log:        log,
		bus:        bus,
		metrics:    newEngineMetrics(cfg.InstanceID, hub),
	}
}

// Start ensures the consumer group exists and spawns the five background
// loops. The loops share one errgroup and one shutdown context.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.log.EnsureGroup(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, loopCtx = errgroup.WithContext(loopCtx)

	e.group.Go(func() error { return e.consumeLoop(loopCtx) })
	e.group.Go(func() error { return e.fanoutLoop(loopCtx) })
	e.group.Go(func() error { return e.ingressLoop(loopCtx) })
	e.group.Go(func() error { return e.heartbeatLoop(loopCtx) })
	e.group.Go(func() error { return e.retryLoop(loopCtx) })

	e.logger.Info("delivery engine started")
	return nil
}

// Stop cancels the loops, waits them out, drains the ingestion log on the
// still-live local sessions, then removes this instance's registry entries.
// Every cleanup step is independent: a failure is logged and the rest run.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		if err := e.group.Wait(); err != nil {
			e.logger.Warn("background loop exited with error", "err", err)
		}
	}

	e.drain(ctx)

	if removed, err := e.registry.RemoveInstance(ctx, e.instanceID); err != nil {
		e.logger.Warn("registry cleanup failed", "err", err)
	} else if removed > 0 {
		e.logger.Info("registry entries removed", "count", removed)
	}

	e.hub.Shutdown()
	e.logger.Info("delivery engine stopped")
	return nil
}

// recoverPanic contains a panic escaping one message handler or cycle body.
// A single poisonous payload must cost at most its own processing, never the
// loop it arrived on.
func (e *Engine) recoverPanic(scope string) {
	if r := recover(); r != nil {
		e.logger.Error("panic recovered",
			"scope", scope,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

// drain consumes the remaining group backlog with non-blocking reads and
// pushes each entry through the normal distributed path while the local
// sessions are still attached.
func (e *Engine) drain(ctx context.Context) {
	consumer := e.consumerName() + "_drain"
	for {
		msgs, err := e.log.Read(ctx, consumer, consumeBatch, -1)
		if err != nil {
			e.logger.Warn("shutdown drain read failed", "err", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			e.handleStreamMessage(ctx, msg)
			if err := e.log.Ack(ctx, msg.ID); err != nil {
				e.logger.Warn("shutdown drain ack failed", "err", err)
			}
		}
		e.logger.Info("drained stream entries", "count", len(msgs))
	}
}
