package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modwatch/modlog-listener/internal/ingest"
	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/internal/notification"
	"github.com/modwatch/modlog-listener/internal/store"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements store.Store with canned responses.
type fakeStore struct {
	pingErr error
	records int64
}

func (f *fakeStore) Connect() error { return nil }
func (f *fakeStore) Close() error   { return nil }
func (f *fakeStore) Ping() error    { return f.pingErr }

func (f *fakeStore) IsInitialized(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeStore) Initialize(ctx context.Context) error            { return nil }

func (f *fakeStore) Exists(ctx context.Context, id string) (bool, error)    { return false, nil }
func (f *fakeStore) Insert(ctx context.Context, ma *models.ModAction) error { return nil }
func (f *fakeStore) CountRecords(ctx context.Context) (int64, error)        { return f.records, nil }

func (f *fakeStore) GetWatermark(ctx context.Context) (models.Watermark, error) {
	return models.Watermark{}, nil
}
func (f *fakeStore) SetWatermark(ctx context.Context, w models.Watermark) error { return nil }

func (f *fakeStore) GetStats() (*store.StoreStats, error) {
	return &store.StoreStats{Type: "fake", TotalRecords: f.records, Healthy: f.pingErr == nil}, nil
}

// fakeNotifier implements notification.Notifier.
type fakeNotifier struct {
	healthy bool
}

func (f *fakeNotifier) Start(ctx context.Context) error               { return nil }
func (f *fakeNotifier) Stop() error                                   { return nil }
func (f *fakeNotifier) IsHealthy() bool                               { return f.healthy }
func (f *fakeNotifier) Send(ctx context.Context, line string) error   { return nil }
func (f *fakeNotifier) GetStats() *notification.NotificationStats {
	return &notification.NotificationStats{}
}

func newTestServer(st store.Store, notifier notification.Notifier) *HTTPServer {
	engine := ingest.NewEngine(&ingest.EngineConfig{FeedURL: "https://example.com/log.json"},
		nil, st, nil, nil, nil)

	return NewHTTPServer(&ServerConfig{
		Port:          0,
		Host:          "127.0.0.1",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		EnableMetrics: true,
		EnableHealth:  true,
	}, st, engine, notifier)
}

func TestHealthEndpointHealthy(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeNotifier{healthy: true})

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	st := &fakeStore{pingErr: utils.NewAppError(utils.ErrCodeDatabase, "Store not connected")}
	s := newTestServer(st, &fakeNotifier{healthy: true})

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(&fakeStore{records: 42}, &fakeNotifier{healthy: true})

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "engine")
	assert.Contains(t, body, "store")
	assert.Contains(t, body, "notification")

	storeStats := body["store"].(map[string]interface{})
	assert.Equal(t, float64(42), storeStats["total_records"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeNotifier{healthy: true})

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
