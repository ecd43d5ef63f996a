package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/export"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/model"
	"iot-telemetry-backend/internal/relay"
	"iot-telemetry-backend/internal/store"
	"iot-telemetry-backend/internal/telemetry"
	"iot-telemetry-backend/internal/view"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRelay struct {
	calls  int
	target relay.Target
	on     bool
	err    error
}

func (f *fakeRelay) Dispatch(ctx context.Context, target relay.Target, on bool) error {
	f.calls++
	f.target, f.on = target, on
	return f.err
}

type testEnv struct {
	router *gin.Engine
	now    time.Time
	relay  *fakeRelay
	store  store.Store
}

func newTestEnv(t *testing.T, configure ...func(*config.Config)) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.ArduinoSample{}, &model.NodeMCUSample{}, &model.PushSubscription{}))

	env := &testEnv{
		now:   time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		relay: &fakeRelay{},
	}
	clock := func() time.Time { return env.now }

	env.store = store.NewGormStore(db, store.WithClock(clock))
	origins := telemetry.NewOriginTracker()
	views := view.NewService(env.store, origins, view.WithClock(clock))

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Metrics.Enabled = true
	for _, fn := range configure {
		fn(cfg)
	}

	reg := prometheus.NewRegistry()
	h := NewHandler(Deps{
		Store:     env.store,
		Views:     views,
		Origins:   origins,
		Relay:     env.relay,
		Metrics:   metrics.New(reg),
		Logger:    zap.NewNop(),
		WebPush:   &webpush.Options{VAPIDPublicKey: "public-key"},
		Dashboard: cfg.Dashboard,
	})
	h.now = clock
	env.router = NewRouter(cfg, h, RouterOptions{Gatherer: reg})
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestUpload_ArduinoRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/upload/arduino",
		`{"sensor_id":"ARDU_07","device_capture_time":"09:59:58","ir1":1,"ir2":0,"piezo":"0.5","speed":12,"arduino_relay":1,"piezo_relay":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"arduino_ok"}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode(t, w)

	arduino := latest["arduino"].(map[string]any)
	assert.Equal(t, "ARDU_07", arduino["sensor_id"])
	assert.Equal(t, "09:59:58", arduino["capture_time"])
	assert.EqualValues(t, 1, arduino["ir1"])
	assert.Equal(t, 0.5, arduino["piezo"])
	assert.EqualValues(t, 12, arduino["speed"])
	assert.Equal(t, true, arduino["arduino_relay"])
	assert.Equal(t, "2026-06-01T10:00:00Z", arduino["timestamp"])

	assert.EqualValues(t, 0, latest["last_seen"])
	assert.Equal(t, true, latest["is_connected"])
	assert.Equal(t, "", latest["nodemcu_ip"])
	assert.Nil(t, latest["latency_diff"])
}

func TestUpload_BundleRecordsOrigin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/upload",
		`{"arduino":{"ir1":1,"speed":3.5},"nodemcu":{"ir2":1,"nodemcu_relay":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	latest := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.Equal(t, "192.0.2.1", latest["nodemcu_ip"])
	assert.EqualValues(t, 0, latest["latency_diff"])
	nodemcu := latest["nodemcu"].(map[string]any)
	assert.Equal(t, "NMCU_01", nodemcu["sensor_id"])
	assert.Equal(t, true, nodemcu["nodemcu_relay"])
}

func TestUpload_BundleOnClassRoute(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/upload/arduino", `{"arduino":{"ir1":7,"speed":12.5}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"arduino_ok"}`, w.Body.String())

	arduino := decode(t, env.do(http.MethodGet, "/api/latest", ""))["arduino"].(map[string]any)
	assert.EqualValues(t, 7, arduino["ir1"])
	assert.Equal(t, 12.5, arduino["speed"])

	w = env.do(http.MethodPost, "/upload/arduino", `{"nodemcu":{"ir1":1}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{"nodemcu"}, decode(t, w)["fields"])
}

func TestUpload_TrailingGarbageRejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/upload/arduino", `{"ir1":1}garbage`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	rows := decode(t, env.do(http.MethodGet, "/api/recent", ""))
	assert.Empty(t, rows["table_rows"])
}

func TestUpload_IgnoresForwardedForByDefault(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/upload/nodemcu", strings.NewReader(`{"ir1":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "169.254.169.254")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	latest := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.Equal(t, "192.0.2.1", latest["nodemcu_ip"])
}

func TestUpload_HonoursConfiguredIPHeader(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.RequestIPHeader = "X-Real-Device-IP"
	})

	req := httptest.NewRequest(http.MethodPost, "/upload/nodemcu", strings.NewReader(`{"ir1":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-Device-IP", "10.0.0.42")
	req.Header.Set("X-Forwarded-For", "169.254.169.254")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	latest := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.Equal(t, "10.0.0.42", latest["nodemcu_ip"])
}

func TestUpload_RouteVariants(t *testing.T) {
	tests := []struct {
		path   string
		body   string
		status string
	}{
		{"/upload/nodemcu", `{"ir1":1}`, "nodemcu_ok"},
		{"/upload/nodemcu/", `{"ir1":1}`, "nodemcu_ok"},
		{"/upload/arduino/", `{}`, "arduino_ok"},
		{"/upload", `{"piezo":1.2}`, "arduino_ok"},
		{"/upload/", `{"source":"nodemcu"}`, "nodemcu_ok"},
		{"/api/upload/", `{"nodemcu_relay":0}`, "nodemcu_ok"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.status, decode(t, w)["status"])
		})
	}
}

func TestUpload_ValidationAppendsNothing(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/upload/arduino", `{"ir1":1,"arduino_relay":"banana"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{"arduino_relay"}, body["fields"])
	assert.Contains(t, body["error"], "arduino_relay")

	w = env.do(http.MethodPost, "/api/upload", `{"arduino":{"ir1":1},"nodemcu":{"ir1":"x"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{"nodemcu.ir1"}, decode(t, w)["fields"])

	w = env.do(http.MethodPost, "/upload", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["fields"])

	latest := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.EqualValues(t, view.NeverSeenSeconds, latest["last_seen"])
	assert.Equal(t, false, latest["is_connected"])
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"sensor_id":"` + strings.Repeat("x", maxUploadBytes) + `"}`
	w := env.do(http.MethodPost, "/upload/arduino", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestLatest_LivenessAfterSilence(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/upload/nodemcu", `{"ir1":1}`).Code)

	env.now = env.now.Add(4999 * time.Millisecond)
	latest := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.Equal(t, true, latest["is_connected"])

	env.now = env.now.Add(time.Millisecond)
	latest = decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.Equal(t, false, latest["is_connected"])
	assert.EqualValues(t, 5, latest["last_seen"])
}

func TestRecent_Window(t *testing.T) {
	env := newTestEnv(t)
	start := env.now

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/upload/arduino", `{"ir1":1}`).Code)
	env.now = start.Add(time.Minute)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/upload/nodemcu", `{"ir1":2}`).Code)

	// Exactly five minutes after the first sample: the boundary is inclusive.
	env.now = start.Add(5 * time.Minute)
	w := env.do(http.MethodGet, "/api/recent?minutes=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode(t, w)["table_rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "arduino", rows[0].(map[string]any)["source"])
	assert.Equal(t, "nodemcu", rows[1].(map[string]any)["source"])

	w = env.do(http.MethodGet, "/api/recent?minutes=4", "")
	rows = decode(t, w)["table_rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "nodemcu", rows[0].(map[string]any)["source"])

	// Default window is 30 minutes.
	w = env.do(http.MethodGet, "/api/recent", "")
	assert.Len(t, decode(t, w)["table_rows"], 2)
}

func TestRecent_MinutesParameter(t *testing.T) {
	env := newTestEnv(t)

	for _, bad := range []string{"abc", "0", "-3", "1.5"} {
		w := env.do(http.MethodGet, "/api/recent?minutes="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}

	w := env.do(http.MethodGet, "/api/recent?minutes=99999999", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"table_rows":[]}`, w.Body.String())
}

func TestExportRecent(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/upload/arduino", `{"ir1":1}`).Code)

	w := env.do(http.MethodGet, "/api/recent/export?minutes=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "telemetry-history-10m.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "arduino", rows[1][0])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/recent/export?minutes=x", "").Code)
}

func TestControlRelay(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantCode   int
		wantCalled bool
		wantTarget relay.Target
		wantOn     bool
	}{
		{"default target", `{"state":1}`, nil, http.StatusOK, true, relay.TargetCommon, true},
		{"arduino off", `{"state":false,"type":"arduino"}`, nil, http.StatusOK, true, relay.TargetArduino, false},
		{"nodemcu zero", `{"state":0,"type":"nodemcu"}`, nil, http.StatusOK, true, relay.TargetNodeMCU, false},
		{"banana state", `{"state":"banana"}`, nil, http.StatusBadRequest, false, "", false},
		{"string one", `{"state":"1"}`, nil, http.StatusBadRequest, false, "", false},
		{"missing state", `{"type":"common"}`, nil, http.StatusBadRequest, false, "", false},
		{"unknown type", `{"state":true,"type":"toaster"}`, nil, http.StatusBadRequest, false, "", false},
		{"malformed", `{`, nil, http.StatusBadRequest, false, "", false},
		{"unreachable", `{"state":true}`, fmt.Errorf("%w: timeout", telemetry.ErrUpstreamUnreachable), http.StatusGatewayTimeout, true, relay.TargetCommon, true},
		{"internal", `{"state":true}`, errors.New("boom"), http.StatusInternalServerError, true, relay.TargetCommon, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.relay.err = tt.err

			w := env.do(http.MethodPost, "/api/control/relay", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if !tt.wantCalled {
				assert.Zero(t, env.relay.calls)
				return
			}
			assert.Equal(t, 1, env.relay.calls)
			assert.Equal(t, tt.wantTarget, env.relay.target)
			assert.Equal(t, tt.wantOn, env.relay.on)
			if tt.wantCode == http.StatusOK {
				assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
			} else {
				assert.Contains(t, decode(t, w), "error")
			}
		})
	}
}

func TestControlRelay_NotConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	router := NewRouter(cfg, NewHandler(Deps{}), RouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/control/relay", strings.NewReader(`{"state":true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/upload/arduino", `{}`).Code)
	env.do(http.MethodPost, "/upload/arduino", `{"ir1":"x"}`)

	w = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `telemetry_samples_ingested_total{class="arduino"} 1`)
	assert.Contains(t, w.Body.String(), `telemetry_uploads_rejected_total{reason="validation"} 1`)
}

func TestResponsesCarryRequestID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/latest", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
