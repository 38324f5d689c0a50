package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/notify-delivery-service/config"
	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/registry"
)

type stubDeliverer struct {
	sendResult bool
	sendMethod string
	sent       []model.Notification
	distCalls  int
}

func (d *stubDeliverer) InstanceID() string { return "inst-test" }

func (d *stubDeliverer) Connect(context.Context, *websocket.Conn, string) (*registry.Session, error) {
	return nil, nil
}

func (d *stubDeliverer) Disconnect(string) {}

func (d *stubDeliverer) Unsubscribe(*registry.Session) {}

func (d *stubDeliverer) SendDistributed(_ context.Context, n model.Notification) (bool, string) {
	d.sent = append(d.sent, n)
	return d.sendResult, d.sendMethod
}

func (d *stubDeliverer) LocalStats() model.HubStats {
	return model.HubStats{InstanceID: "inst-test", LocalConnections: 2, Users: []string{"u1", "u2"}}
}

func (d *stubDeliverer) DistributedStats(context.Context) (model.DistributedStats, error) {
	d.distCalls++
	return model.DistributedStats{TotalConnections: 5}, nil
}

type fixture struct {
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	deliverer *stubDeliverer
	handler   *Handler
	router    *chi.Mux
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		InstanceID:         "inst-test",
		MaxMessageSize:     1 << 20,
		MaxPendingMessages: 100,
		MessageTTL:         time.Hour,
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deliverer := &stubDeliverer{sendResult: true, sendMethod: "direct_websocket"}
	log := coordinator.NewIngestionLog(rdb, logger)
	pending := coordinator.NewPendingStore(rdb, logger, cfg.MaxPendingMessages, cfg.MessageTTL)

	h := NewHandler(logger, cfg, deliverer, log, pending, rdb)
	router := chi.NewRouter()
	router.Post("/notify/stream/{userID}", h.NotifyStream)
	router.Post("/notify/direct/{userID}", h.NotifyDirect)
	router.Get("/health", h.Health)
	router.Get("/stats", h.Stats)
	router.Get("/stats/distributed", h.StatsDistributed)
	router.Get("/debug/pending/{userID}", h.DebugPending)

	return &fixture{mr: mr, rdb: rdb, deliverer: deliverer, handler: h, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestNotifyStreamAppends(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/notify/stream/u1", `{"message":{"k":"v"},"type":"alert"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"stream_id"`)
	assert.Contains(t, rec.Body.String(), `"notification_id"`)

	n, err := f.rdb.XLen(context.Background(), coordinator.StreamKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNotifyStreamRejectsBadBody(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/notify/stream/u1", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyRejectsOversizedMessage(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxMessageSize = 10 })

	// Serialized form of 8 a's is exactly 10 bytes with quotes: accepted.
	rec := f.do(t, http.MethodPost, "/notify/direct/u1", `{"message":"aaaaaaaa"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// One more byte crosses the bound.
	rec = f.do(t, http.MethodPost, "/notify/direct/u1", `{"message":"aaaaaaaaa"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNotifyDirectDelivered(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/notify/direct/u1", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"delivery_method":"direct_websocket"`)

	require.Len(t, f.deliverer.sent, 1)
	assert.Equal(t, "u1", f.deliverer.sent[0].UserID)
	assert.Equal(t, map[string]any{"content": "hi"}, f.deliverer.sent[0].Message)
}

func TestNotifyDirectOffline(t *testing.T) {
	f := newFixture(t, nil)
	f.deliverer.sendResult = false
	f.deliverer.sendMethod = "pending"

	rec := f.do(t, http.MethodPost, "/notify/direct/u1", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), "user offline, stored as pending")
}

func TestNotifyRejectsBlankUser(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/notify/direct/%20", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHealthy(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"instance_id":"inst-test"`)
}

func TestHealthDegradedWhenCoordinatorDown(t *testing.T) {
	f := newFixture(t, nil)
	f.mr.Close()

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestStatsLocal(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"local_connections":2`)
}

func TestStatsDistributedCached(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodGet, "/stats/distributed", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"total_connections":5`)
	}

	// Burst polling hits the registry once.
	assert.Equal(t, 1, f.deliverer.distCalls)
}

func TestDebugPendingGated(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/debug/pending/u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugPendingEnabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.EnableDebug = true })

	entry := model.NewPendingEntry(model.NewNotification("u1", nil, "", "n1"))
	require.NoError(t, f.handler.pending.Enqueue(context.Background(), entry))

	rec := f.do(t, http.MethodGet, "/debug/pending/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), "n1")
}
