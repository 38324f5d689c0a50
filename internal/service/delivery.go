package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

// ErrInvalidUser rejects empty (after trimming) user ids at the boundary.
var ErrInvalidUser = errors.New("invalid user id")

// Delivery methods reported by SendDistributed.
const (
	DeliveryDirect  = "direct_websocket"
	DeliveryFanout  = "fanout"
	DeliveryPending = "pending"
)

// sendTimeout bounds mailbox admission so one saturated session cannot stall
// a delivery loop.
const sendTimeout = 500 * time.Millisecond

// Deliverer is the contract transport handlers program against.
type Deliverer interface {
	InstanceID() string
	Connect(ctx context.Context, conn *websocket.Conn, userID string) (*registry.Session, error)
	Disconnect(userID string)
	Unsubscribe(s *registry.Session)
	SendDistributed(ctx context.Context, n model.Notification) (bool, string)
	LocalStats() model.HubStats
	DistributedStats(ctx context.Context) (model.DistributedStats, error)
}

func (e *Engine) InstanceID() string { return e.instanceID }

// Connect registers a freshly upgraded websocket: local table first, then
// the shared registry, then a best-effort flush of the user's pending queue.
// On registry failure the local registration is rolled back so no state
// leaks past a failed handshake.
func (e *Engine) Connect(ctx context.Context, conn *websocket.Conn, userID string) (*registry.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}

	session := e.hub.Open(conn, userID, e.sessionDead)
	if err := e.registry.Put(ctx, userID); err != nil {
		e.hub.Remove(userID, session)
		session.Close()
		return nil, err
	}

	e.logger.Info("session opened", "user_id", userID)
	e.flushPending(ctx, userID)
	return session, nil
}

// Disconnect removes the user's session locally and from the shared
// registry. Idempotent; never fails.
func (e *Engine) Disconnect(userID string) {
	if s := e.hub.Remove(userID, nil); s != nil {
		s.Close()
		e.recoverUnsent(s)
	}
	e.removeRegistryEntry(userID)
}

// Unsubscribe releases one specific session, leaving any replacement that
// registered meanwhile untouched. Transport handlers defer it.
func (e *Engine) Unsubscribe(s *registry.Session) {
	e.disconnectSession(s)
}

// sessionDead reacts to an asynchronous write failure on the session's pump.
// Only the exact dead session is unregistered, never its replacement, but the
// dead session's unsent frames are re-queued either way.
func (e *Engine) sessionDead(s *registry.Session) {
	cur := e.hub.Remove(s.UserID(), s)
	e.recoverUnsent(s)
	if cur == nil {
		return
	}
	e.logger.Warn("session write failed, disconnecting", "user_id", s.UserID())
	e.removeRegistryEntry(s.UserID())
}

func (e *Engine) removeRegistryEntry(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.registry.Remove(ctx, userID); err != nil {
		e.logger.Warn("registry remove failed", "user_id", userID, "err", err)
	}
}

// SendLocal serializes the frame and hands it to the user's local session.
// A dead or saturated session is torn down and reported as a miss.
func (e *Engine) SendLocal(userID string, frame any) bool {
	s, ok := e.hub.Get(userID)
	if !ok {
		return false
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		e.logger.Error("frame marshal failed", "user_id", userID, "err", err)
		return false
	}
	if !s.Send(raw, sendTimeout) {
		e.disconnectSession(s)
		return false
	}
	return true
}

func (e *Engine) disconnectSession(s *registry.Session) {
	if cur := e.hub.Remove(s.UserID(), s); cur != nil {
		cur.Close()
		e.removeRegistryEntry(s.UserID())
	}
	e.recoverUnsent(s)
}

// recoverUnsent re-queues notification frames a closed session admitted but
// never wrote, preserving at-least-once delivery when a socket dies between
// mailbox admission and the actual write. Heartbeats and pongs are not worth
// replaying and are skipped.
func (e *Engine) recoverUnsent(s *registry.Session) {
	frames := s.Unsent()
	if len(frames) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requeued := 0
	for _, raw := range frames {
		var n model.Notification
		if err := json.Unmarshal(raw, &n); err != nil || n.UserID == "" {
			continue
		}
		switch n.Type {
		case model.FrameHeartbeat, model.FramePong:
			continue
		}
		if err := e.pending.Enqueue(ctx, model.NewPendingEntry(n)); err != nil {
			e.logger.Error("unsent frame requeue failed", "user_id", n.UserID, "err", err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		e.metrics.pendingEnqueued.Add(ctx, int64(requeued), e.metrics.attrs)
		e.logger.Info("requeued undelivered frames", "user_id", s.UserID(), "count", requeued)
	}
}

// SendDistributed routes an envelope to wherever the user's session lives:
// this instance, a peer instance via the fan-out bus, or the pending store
// when nobody owns a session. The returned method names the path taken.
func (e *Engine) SendDistributed(ctx context.Context, n model.Notification) (bool, string) {
	if delivered, method := e.trySend(ctx, n); delivered {
		return true, method
	}

	entry := model.NewPendingEntry(n)
	if err := e.pending.Enqueue(ctx, entry); err != nil {
		e.logger.Error("pending enqueue failed", "user_id", n.UserID, "err", err)
	} else {
		e.metrics.pendingEnqueued.Add(ctx, 1, e.metrics.attrs)
	}
	return false, DeliveryPending
}

// trySend attempts local then cross-instance delivery without falling back
// to the pending store. The retry loop uses it directly to avoid re-queueing
// what it is already retrying.
func (e *Engine) trySend(ctx context.Context, n model.Notification) (bool, string) {
	if e.SendLocal(n.UserID, n) {
		return true, DeliveryDirect
	}

	entry, ok, err := e.registry.Owner(ctx, n.UserID)
	if err != nil {
		e.logger.Warn("registry lookup failed", "user_id", n.UserID, "err", err)
		return false, ""
	}
	if !ok {
		return false, ""
	}

	if entry.InstanceID == e.instanceID {
		// Registry points here but no local session exists: a stale
		// self-entry left by a crashed predecessor. Heal and store.
		e.removeRegistryEntry(n.UserID)
		return false, ""
	}

	if err := e.bus.PublishFanout(ctx, entry.InstanceID, model.NewFanout(n, e.instanceID)); err != nil {
		e.logger.Warn("fanout publish failed", "user_id", n.UserID, "owner", entry.InstanceID, "err", err)
		return false, ""
	}
	e.metrics.fanoutSent.Add(ctx, 1, e.metrics.attrs)
	return true, DeliveryFanout
}

// flushPending replays the user's queue to the local session in enqueue
// order, stopping at the first failure to preserve in-queue ordering for
// this connection. Coordinator errors are logged and swallowed.
func (e *Engine) flushPending(ctx context.Context, userID string) {
	entries, err := e.pending.Entries(ctx, userID)
	if err != nil {
		e.logger.Warn("pending flush read failed", "user_id", userID, "err", err)
		return
	}

	delivered := 0
	for _, se := range entries {
		if !e.SendLocal(userID, se.Entry.Notification()) {
			break
		}
		if err := e.pending.Remove(ctx, userID, se.Raw); err != nil {
			e.logger.Warn("pending remove failed", "user_id", userID, "err", err)
			break
		}
		delivered++
	}

	if err := e.pending.PruneIndex(ctx, userID); err != nil {
		e.logger.Warn("pending index prune failed", "user_id", userID, "err", err)
	}
	if delivered > 0 {
		e.logger.Info("pending queue flushed", "user_id", userID, "delivered", delivered)
	}
}

// retryUser walks the user's queue once. Failed entries burn an attempt;
// entries reaching their budget move to the dead letter list. This is the
// only path that promotes entries to the dead letter.
func (e *Engine) retryUser(ctx context.Context, userID string) {
	entries, err := e.pending.Entries(ctx, userID)
	if err != nil {
		e.logger.Warn("pending retry read failed", "user_id", userID, "err", err)
		return
	}

	for _, se := range entries {
		if delivered, _ := e.trySend(ctx, se.Entry.Notification()); delivered {
			if err := e.pending.Remove(ctx, userID, se.Raw); err != nil {
				e.logger.Warn("pending remove failed", "user_id", userID, "err", err)
			}
			e.metrics.retrySucceeded.Add(ctx, 1, e.metrics.attrs)
			continue
		}

		se.Entry.Attempts++
		e.metrics.retryFailed.Add(ctx, 1, e.metrics.attrs)

		if se.Entry.Exhausted() {
			if err := e.pending.DeadLetter(ctx, se.Entry); err != nil {
				e.logger.Error("dead letter append failed", "user_id", userID, "err", err)
				continue // keep the entry in the queue rather than lose it
			}
			if err := e.pending.Remove(ctx, userID, se.Raw); err != nil {
				e.logger.Warn("pending remove failed", "user_id", userID, "err", err)
			}
			e.metrics.dlqAppended.Add(ctx, 1, e.metrics.attrs)
			e.logger.Warn("notification dead-lettered",
				"user_id", userID,
				"notification_id", se.Entry.NotificationID,
				"attempts", se.Entry.Attempts,
			)
			continue
		}

		if err := e.pending.Replace(ctx, userID, se.Raw, se.Entry, se.Score); err != nil {
			e.logger.Warn("pending replace failed", "user_id", userID, "err", err)
		}
	}

	if err := e.pending.PruneIndex(ctx, userID); err != nil {
		e.logger.Warn("pending index prune failed", "user_id", userID, "err", err)
	}
}

// LocalStats snapshots this instance's session table.
func (e *Engine) LocalStats() model.HubStats {
	return model.HubStats{
		InstanceID:       e.instanceID,
		LocalConnections: e.hub.Len(),
		Users:            e.hub.Users(),
		UptimeSeconds:    int64(e.hub.Uptime().Seconds()),
	}
}

// DistributedStats aggregates the shared registry by owning instance.
func (e *Engine) DistributedStats(ctx context.Context) (model.DistributedStats, error) {
	entries, err := e.registry.All(ctx)
	if err != nil {
		return model.DistributedStats{}, err
	}

	stats := model.DistributedStats{
		TotalConnections: len(entries),
		Instances:        make(map[string]int),
		UsersByInstance:  make(map[string][]string),
	}
	for userID, entry := range entries {
		stats.Instances[entry.InstanceID]++
		stats.UsersByInstance[entry.InstanceID] = append(stats.UsersByInstance[entry.InstanceID], userID)
	}
	return stats, nil
}

var _ Deliverer = (*Engine)(nil)
