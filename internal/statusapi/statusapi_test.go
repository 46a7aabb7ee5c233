package statusapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/metrics"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/scheduler"
)

type fakeSensors struct {
	values map[string]model.Measurement
}

func (f *fakeSensors) Latest(sensorID string) (model.Measurement, bool) {
	m, ok := f.values[sensorID]
	return m, ok
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	a := arbiter.New(hal.NewStub(), zerolog.Nop())
	require.NoError(t, a.Manage(5, arbiter.DefaultLimits()))
	sched := scheduler.New(a, zerolog.Nop())
	sensors := &fakeSensors{values: map[string]model.Measurement{
		"ph1": {SensorID: "ph1", Value: 6.1, Unit: "pH", Kind: model.KindPH, Timestamp: time.Now()},
	}}
	return New(sensors, a, sched, metrics.NewPrometheus(), zerolog.Nop())
}

func TestGetSensorStatus_ReturnsLatestMeasurement(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status/sensors/ph1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body sensorStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 6.1, body.Value)
}

func TestGetSensorStatus_UnknownSensorIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status/sensors/nope", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestGetPinStates_ReportsManagedPins(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status/pins", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body []pinStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, 5, body[0].Pin)
	assert.Equal(t, "low", body[0].Level)
}

func TestGetTaskStatus_ReportsSchedulerTasks(t *testing.T) {
	a := arbiter.New(hal.NewStub(), zerolog.Nop())
	require.NoError(t, a.Manage(5, arbiter.DefaultLimits()))
	sched := scheduler.New(a, zerolog.Nop())
	sched.AddTask("t1", time.Hour, func(ctx context.Context, now time.Time) error { return nil })

	s := New(&fakeSensors{values: map[string]model.Measurement{}}, a, sched, metrics.NewPrometheus(), zerolog.Nop())
	req := httptest.NewRequest("GET", "/status/tasks", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["t1"])
}

func TestGetHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/status/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
