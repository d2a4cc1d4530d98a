package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-data/breathwatch/internal/breath"
	"github.com/vigil-data/breathwatch/internal/config"
	"github.com/vigil-data/breathwatch/internal/db"
	"github.com/vigil-data/breathwatch/internal/dsp"
	"github.com/vigil-data/breathwatch/internal/stream"
)

func newTestServer(t *testing.T) (*Server, *breath.Alarm, *breath.History) {
	t.Helper()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.MigrateUp(filepath.Join("..", "db", "migrations")))

	alarm := breath.NewAlarm(breath.AlarmThresholds{PendingLimit: 4, ActiveLimit: 2, ValidationLimit: 3})
	history := breath.NewHistory(10)
	srv := NewServer(
		alarm, history, store, config.EmptyConfig(),
		stream.NewRegistry("Video", stream.LengthPrefixed, time.Second),
		stream.NewRegistry("Data", stream.LengthPrefixed, time.Second),
	)
	return srv, alarm, history
}

func doRequest(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	return rec
}

func sampleSnapshot(ts time.Time, rate float64) breath.Snapshot {
	return breath.Snapshot{
		Timestamp: ts,
		Waveform:  []float64{0.01, 0.02, 0.03},
		Classification: dsp.Classification{
			Motion:        dsp.MotionStable,
			Alert:         dsp.AlertNormal,
			Variability:   0.008,
			PeakMagnitude: 0.03,
		},
		BreathingRate: rate,
	}
}

func TestShowStatus(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)
	history.Append(sampleSnapshot(time.Unix(1700000000, 0), 14.5))

	rec := doRequest(srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "stable", got.MotionState)
	assert.Equal(t, "normal", got.Alert)
	assert.Equal(t, 14.5, got.BreathingRate)
	assert.False(t, got.Alarm.Armed)
	assert.Equal(t, 0, got.VideoClients)
	assert.Equal(t, 0, got.DataClients)
}

func TestShowStatusEmptyHistory(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.MotionState)
}

func TestListHistory(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)
	for i := 0; i < 5; i++ {
		history.Append(sampleSnapshot(time.Unix(int64(1700000000+i), 0), 14))
	}

	rec := doRequest(srv, http.MethodGet, "/api/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []historyEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	// The newest two entries, oldest of the pair first.
	assert.InDelta(t, 1700000003, entries[0].Timestamp, 1e-6)
	assert.InDelta(t, 1700000004, entries[1].Timestamp, 1e-6)
	assert.Nil(t, entries[0].Waveform, "waveforms omitted by default")
}

func TestListHistoryWithWaveforms(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)
	history.Append(sampleSnapshot(time.Unix(1700000000, 0), 14))

	rec := doRequest(srv, http.MethodGet, "/api/history?waveforms=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []historyEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, []float64{0.01, 0.02, 0.03}, entries[0].Waveform)
}

func TestListHistoryBadLimit(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlarmLifecycleEndpoints(t *testing.T) {
	t.Parallel()

	srv, alarm, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/alarm/arm")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, alarm.State().Armed)

	// Drive the alarm to activation.
	for i := 0; i < 3; i++ {
		alarm.Observe(dsp.AlertNoMovement, dsp.AlertNoMovement)
	}
	require.True(t, alarm.State().Active)

	rec = doRequest(srv, http.MethodGet, "/api/alarm")
	require.Equal(t, http.StatusOK, rec.Code)
	var state breath.AlarmState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Active)

	rec = doRequest(srv, http.MethodPost, "/api/alarm/reset?disarm=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, alarm.State().Active)
	assert.False(t, alarm.State().Armed)

	// Both lifecycle calls were recorded.
	rec = doRequest(srv, http.MethodGet, "/api/alarm/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []db.AlarmEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, db.AlarmEventReset, events[0].Event)
	assert.Equal(t, db.AlarmEventArmed, events[1].Event)
}

func TestAlarmArmRequiresPost(t *testing.T) {
	t.Parallel()

	srv, alarm, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/alarm/arm")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, alarm.State().Armed)
}

func TestListCycles(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	require.NoError(t, srv.store.RecordCycle(sampleSnapshot(time.Unix(1700000000, 0), 15)))

	rec := doRequest(srv, http.MethodGet, "/api/cycles")
	require.Equal(t, http.StatusOK, rec.Code)

	var cycles []db.CycleRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, 15.0, cycles[0].BreathingRate)
}

func TestCyclesWithoutStore(t *testing.T) {
	t.Parallel()

	srv := NewServer(
		breath.NewAlarm(breath.AlarmThresholds{}),
		breath.NewHistory(10),
		nil,
		config.EmptyConfig(),
		stream.NewRegistry("Video", stream.LengthPrefixed, time.Second),
		stream.NewRegistry("Data", stream.LengthPrefixed, time.Second),
	)

	rec := doRequest(srv, http.MethodGet, "/api/cycles")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/alarm/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShowConfig(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestShowVersion(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Contains(t, info, "version")
}

func TestWaveformChart(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/charts/waveform")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no cycles yet")

	history.Append(sampleSnapshot(time.Unix(1700000000, 0), 14))
	rec = doRequest(srv, http.MethodGet, "/charts/waveform")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestTrendChart(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)
	for i := 0; i < 3; i++ {
		history.Append(sampleSnapshot(time.Unix(int64(1700000000+i), 0), 14))
	}

	rec := doRequest(srv, http.MethodGet, "/charts/trend")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestWaveformPNG(t *testing.T) {
	t.Parallel()

	srv, _, history := newTestServer(t)
	history.Append(sampleSnapshot(time.Unix(1700000000, 0), 14))

	rec := doRequest(srv, http.MethodGet, "/debug/waveform.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	// PNG magic bytes.
	body := rec.Body.Bytes()
	require.Greater(t, len(body), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body[:4])
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
