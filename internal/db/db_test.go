package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUpsertAndRetrieveSensor(t *testing.T) {
	d := openTestDB(t)
	s := model.Sensor{
		ID: "ph1", Name: "pH probe 1", DriverTag: "cs1237_ph", Enabled: true,
		UpdateInterval: 5 * time.Second, Config: []byte(`{"sck_pin":1}`), CalibrationData: []byte(`[]`),
	}
	require.NoError(t, d.UpsertSensor(s))

	got, err := d.SensorByID("ph1")
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.DriverTag, got.DriverTag)
	assert.Equal(t, s.UpdateInterval, got.UpdateInterval)
	assert.True(t, got.LastMeasurementAt.IsZero())
}

func TestUpdateSensorEnabled_TogglesFlag(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", Enabled: true, UpdateInterval: 5 * time.Second}))

	require.NoError(t, d.UpdateSensorEnabled("ph1", false))
	got, err := d.SensorByID("ph1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestUpdateControllerEnabled_TogglesFlag(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertController(model.Controller{ID: "pump1", ControllerType: "pump_timer", Enabled: true, UpdateInterval: time.Minute}))

	require.NoError(t, d.UpdateControllerEnabled("pump1", false))
	got, err := d.ControllerByID("pump1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestUpsertSensor_IsIdempotentOnConflict(t *testing.T) {
	d := openTestDB(t)
	s := model.Sensor{ID: "ph1", Name: "v1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}
	require.NoError(t, d.UpsertSensor(s))
	s.Name = "v2"
	require.NoError(t, d.UpsertSensor(s))

	got, err := d.SensorByID("ph1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)

	all, err := d.AllSensors()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertController_PersistsBoundSensors(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", Name: "pH", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))

	c := model.Controller{
		ID: "dose-ph", Name: "pH dosing", ControllerType: "dosing_ph", Enabled: true,
		UpdateInterval: 10 * time.Second, BoundSensors: map[string]string{"primary": "ph1"},
	}
	require.NoError(t, d.UpsertController(c))

	got, err := d.ControllerByID("dose-ph")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"primary": "ph1"}, got.BoundSensors)
}

func TestUpsertController_ReplacesBoundSensorsOnUpdate(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph2", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))

	c := model.Controller{ID: "dose-ph", ControllerType: "dosing_ph", UpdateInterval: time.Second, BoundSensors: map[string]string{"primary": "ph1"}}
	require.NoError(t, d.UpsertController(c))

	c.BoundSensors = map[string]string{"primary": "ph2"}
	require.NoError(t, d.UpsertController(c))

	got, err := d.ControllerByID("dose-ph")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"primary": "ph2"}, got.BoundSensors)
}

func TestSaveAndLoadMeasurements(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: t0, Kind: model.KindPH, Value: 6.1, Unit: "pH"}))
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: t0.Add(time.Minute), Kind: model.KindPH, Value: 6.2, Unit: "pH"}))

	got, err := d.LoadSince("ph1", t0.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 6.1, got[0].Value)
	assert.Equal(t, 6.2, got[1].Value)
}

func TestLoadSince_ExcludesOlderMeasurements(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: now.Add(-time.Hour), Kind: model.KindPH, Value: 6.0, Unit: "pH"}))
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: now, Kind: model.KindPH, Value: 6.1, Unit: "pH"}))

	got, err := d.LoadSince("ph1", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 6.1, got[0].Value)
}

func TestPurgeSensor_RemovesAllItsMeasurements(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: time.Now(), Kind: model.KindPH, Value: 6.0, Unit: "pH"}))

	require.NoError(t, d.PurgeSensor("ph1"))

	got, err := d.LoadSince("ph1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPurgeOlderThan_DeletesOnlyStaleRows(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: now.Add(-48 * time.Hour), Kind: model.KindPH, Value: 6.0, Unit: "pH"}))
	require.NoError(t, d.SaveMeasurement(model.Measurement{SensorID: "ph1", Timestamp: now, Kind: model.KindPH, Value: 6.1, Unit: "pH"}))

	n, err := d.PurgeOlderThan(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAppendAndRetrieveControllerActions(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertController(model.Controller{ID: "dose-ph", ControllerType: "dosing_ph", UpdateInterval: time.Second}))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, d.Append(model.ControllerAction{ControllerID: "dose-ph", Timestamp: now, Kind: model.ActionDoseUp, Details: "pulse 500ms"}))

	got, err := d.ActionsSince("dose-ph", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionDoseUp, got[0].Kind)
}

func TestDeleteController_CascadesActionsAndBoundSensors(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertSensor(model.Sensor{ID: "ph1", DriverTag: "cs1237_ph", UpdateInterval: time.Second}))
	require.NoError(t, d.UpsertController(model.Controller{ID: "dose-ph", ControllerType: "dosing_ph", UpdateInterval: time.Second, BoundSensors: map[string]string{"primary": "ph1"}}))
	require.NoError(t, d.Append(model.ControllerAction{ControllerID: "dose-ph", Timestamp: time.Now(), Kind: model.ActionDoseUp}))

	require.NoError(t, d.DeleteController("dose-ph"))

	_, err := d.ControllerByID("dose-ph")
	assert.Error(t, err)

	all, err := d.AllControllers()
	require.NoError(t, err)
	assert.Empty(t, all)
}
