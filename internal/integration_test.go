package internal

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/api"
	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/db"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/relay"
	"iot-telemetry-backend/internal/store"
	"iot-telemetry-backend/internal/telemetry"
	"iot-telemetry-backend/internal/view"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// vehicle stands in for the boards' relay endpoints.
type vehicle struct {
	mu    sync.Mutex
	paths []string
}

func (v *vehicle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	v.paths = append(v.paths, r.URL.Path)
	v.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (v *vehicle) Paths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.paths...)
}

// TestTelemetryLifecycle drives the service end to end: samples arrive, the
// dashboard views reflect them, live listeners get pushed updates and a relay
// command reaches both boards.
func TestTelemetryLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Database.DSN = filepath.Join(t.TempDir(), "telemetry.db")
	cfg.Log.SQLLevel = "silent"
	cfg.Metrics.Enabled = true
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	gormDB, err := db.Init(&cfg.Database, cfg.Log.SQLLevel, logger)
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	device := &vehicle{}
	deviceSrv := httptest.NewServer(device)
	defer deviceSrv.Close()
	host, port, err := net.SplitHostPort(deviceSrv.Listener.Addr().String())
	require.NoError(t, err)
	cfg.Relay.DeviceHost = host
	cfg.Relay.DevicePort, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Relay.PinDeviceHost = true

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := store.NewGormStore(gormDB)
	origins := telemetry.NewOriginTracker()
	views := view.NewService(s, origins, view.WithConnectedWithin(cfg.Dashboard.ConnectedWithin))
	hub := broadcast.NewHub(logger, m, views.Snapshot)
	defer hub.Close()

	dispatcher := relay.NewDispatcher(cfg.Relay, origins, views, broadcast.Fanout{hub}, logger, m)
	handler := api.NewHandler(api.Deps{
		Store:     s,
		Views:     views,
		Origins:   origins,
		Relay:     dispatcher,
		Live:      hub,
		Metrics:   m,
		Logger:    logger,
		Dashboard: cfg.Dashboard,
	})
	router := api.NewRouter(cfg, handler, api.RouterOptions{Live: hub, Gatherer: reg, Logger: logger})
	srv := httptest.NewServer(router)
	defer srv.Close()

	// A dashboard listener connects before any data exists.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readLatest(t, conn)
	assert.Nil(t, snapshot.Arduino.Timestamp)
	assert.False(t, snapshot.IsConnected)

	// --- Ingest ---
	post(t, srv.URL+"/upload/arduino",
		`{"sensor_id":"ARDU_01","device_capture_time":"12:00:01","ir1":1,"ir2":0,"piezo":0.25,"speed":4.5,"arduino_relay":0,"piezo_relay":1}`,
		`{"status":"arduino_ok"}`)

	pushed := readLatest(t, conn)
	require.NotNil(t, pushed.Arduino.Timestamp)
	assert.Equal(t, "ARDU_01", pushed.Arduino.SensorID)
	assert.True(t, pushed.Arduino.PiezoRelay)

	post(t, srv.URL+"/upload/nodemcu", `{"ir1":0,"ir2":1,"nodemcu_relay":false}`, `{"status":"nodemcu_ok"}`)
	pushed = readLatest(t, conn)
	require.NotNil(t, pushed.NodeMCU.Timestamp)
	assert.Equal(t, "127.0.0.1", pushed.NodeMCUIP)

	// --- Latest view ---
	var latest view.LatestState
	getJSON(t, srv.URL+"/api/latest", &latest)
	assert.True(t, latest.IsConnected)
	assert.Less(t, latest.LastSeen, cfg.Dashboard.ConnectedWithin.Seconds())
	require.NotNil(t, latest.LatencyDiff)
	assert.LessOrEqual(t, *latest.LatencyDiff, 0.0)
	assert.Equal(t, "NMCU_01", latest.NodeMCU.SensorID)

	// --- History ---
	var recent struct {
		TableRows []view.Row `json:"table_rows"`
	}
	getJSON(t, srv.URL+"/api/recent?minutes=5", &recent)
	require.Len(t, recent.TableRows, 2)
	assert.Equal(t, telemetry.ClassArduino, recent.TableRows[0].Source)
	assert.Equal(t, 0.25, recent.TableRows[0].Piezo)
	assert.Equal(t, telemetry.ClassNodeMCU, recent.TableRows[1].Source)

	// --- Relay ---
	post(t, srv.URL+"/api/control/relay", `{"state":1}`, `{"status":"ok"}`)
	assert.ElementsMatch(t, []string{"/relay/on", "/relay/arduino/on"}, device.Paths())

	pushed = readLatest(t, conn)
	assert.Equal(t, "ARDU_01", pushed.Arduino.SensorID)

	post(t, srv.URL+"/api/control/relay", `{"state":false,"type":"arduino"}`, `{"status":"ok"}`)
	assert.Equal(t, "/relay/arduino/off", device.Paths()[2])

	// Relay commands are not samples.
	getJSON(t, srv.URL+"/api/recent?minutes=5", &recent)
	assert.Len(t, recent.TableRows, 2)

	// --- Unreachable vehicle ---
	deviceSrv.Close()
	resp, err := http.Post(srv.URL+"/api/control/relay", "application/json", strings.NewReader(`{"state":true,"type":"nodemcu"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func post(t *testing.T, url, body, expected string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, buf.String())
	assert.JSONEq(t, expected, buf.String())
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func readLatest(t *testing.T, conn *websocket.Conn) view.LatestState {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var state view.LatestState
	require.NoError(t, json.Unmarshal(payload, &state))
	return state
}
