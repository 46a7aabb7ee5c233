package controller

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/model"
)

type fakeHandle struct {
	actions      []ActionRequest
	err          error
	closed       bool
	pins         []int
	lastReadings map[string]model.Measurement
}

func (f *fakeHandle) Process(now time.Time, readings map[string]model.Measurement) ([]ActionRequest, error) {
	f.lastReadings = readings
	return f.actions, f.err
}
func (f *fakeHandle) Close() error       { f.closed = true; return nil }
func (f *fakeHandle) ActuatorPins() []int { return f.pins }

type fakeDriver struct {
	describe Describe
	handle   *fakeHandle
}

func (d *fakeDriver) Describe() Describe             { return d.describe }
func (d *fakeDriver) Open(config []byte) (Handle, error) { return d.handle, nil }

type fakeLog struct {
	entries []model.ControllerAction
}

func (l *fakeLog) Append(a model.ControllerAction) error {
	l.entries = append(l.entries, a)
	return nil
}

type fakeReadings struct {
	values map[string]model.Measurement
}

func (f *fakeReadings) Latest(sensorID string) (model.Measurement, bool) {
	m, ok := f.values[sensorID]
	return m, ok
}

type fakeKindLookup map[string]model.MeasurementKind

func (f fakeKindLookup) MeasurementKindOf(sensorID string) (model.MeasurementKind, bool) {
	k, ok := f[sensorID]
	return k, ok
}

func newTestArbiter(t *testing.T, pin int) *arbiter.Arbiter {
	a := arbiter.New(hal.NewStub(), zerolog.Nop())
	require.NoError(t, a.Manage(pin, arbiter.DefaultLimits()))
	return a
}

func TestOpen_RejectsUnboundRequiredRole(t *testing.T) {
	tag := "test_ctrl_unbound"
	Register(tag, func() Driver {
		return &fakeDriver{describe: Describe{RequiredSensorRoles: map[string]model.MeasurementKind{"ph": model.KindPH}}, handle: &fakeHandle{}}
	})

	c := model.Controller{ID: "c1", ControllerType: tag, BoundSensors: map[string]string{}}
	_, err := Open(c, newTestArbiter(t, 5), &fakeLog{}, fakeKindLookup{})
	assert.Error(t, err)
}

func TestOpen_RejectsSensorOfWrongMeasurementKind(t *testing.T) {
	tag := "test_ctrl_wrong_kind"
	Register(tag, func() Driver {
		return &fakeDriver{describe: Describe{RequiredSensorRoles: map[string]model.MeasurementKind{"ph": model.KindPH}}, handle: &fakeHandle{}}
	})

	c := model.Controller{ID: "c1b", ControllerType: tag, BoundSensors: map[string]string{"ph": "temp-sensor-1"}}
	_, err := Open(c, newTestArbiter(t, 5), &fakeLog{}, fakeKindLookup{"temp-sensor-1": model.KindTemperature})
	assert.Error(t, err)
}

func TestProcess_AppliesSetActionAndLogsEntry(t *testing.T) {
	tag := "test_ctrl_set"
	handle := &fakeHandle{pins: []int{5}, actions: []ActionRequest{
		{HasPinOp: true, Pin: 5, Set: boolPtr(true), ActionKind: model.ActionPumpStart, Details: "started"},
	}}
	Register(tag, func() Driver {
		return &fakeDriver{describe: Describe{RequiredSensorRoles: map[string]model.MeasurementKind{"temp": model.KindTemperature}}, handle: handle}
	})

	a := newTestArbiter(t, 5)
	log := &fakeLog{}
	c := model.Controller{ID: "c2", ControllerType: tag, BoundSensors: map[string]string{"temp": "s1"}}
	inst, err := Open(c, a, log, fakeKindLookup{"s1": model.KindTemperature})
	require.NoError(t, err)

	readings := &fakeReadings{values: map[string]model.Measurement{"s1": {SensorID: "s1", Value: 22}}}
	require.NoError(t, inst.Process(time.Now(), readings))

	assert.Equal(t, model.PinHigh, a.List()[5].Level)
	require.Len(t, log.entries, 1)
	assert.Equal(t, model.ActionPumpStart, log.entries[0].Kind)
	assert.Equal(t, "s1", handle.lastReadings["temp"].SensorID)
}

func TestProcess_RejectsActionOnUndeclaredPin(t *testing.T) {
	tag := "test_ctrl_undeclared"
	handle := &fakeHandle{pins: []int{5}, actions: []ActionRequest{{HasPinOp: true, Pin: 99, Set: boolPtr(true)}}}
	Register(tag, func() Driver {
		return &fakeDriver{describe: Describe{}, handle: handle}
	})

	a := newTestArbiter(t, 5)
	c := model.Controller{ID: "c3", ControllerType: tag}
	inst, err := Open(c, a, &fakeLog{}, fakeKindLookup{})
	require.NoError(t, err)

	err = inst.Process(time.Now(), &fakeReadings{values: map[string]model.Measurement{}})
	assert.Error(t, err)
}

func TestProcess_SafetyRefusalLogsEntryInsteadOfAborting(t *testing.T) {
	tag := "test_ctrl_refused"
	handle := &fakeHandle{pins: []int{5}, actions: []ActionRequest{{HasPinOp: true, Pin: 5, Set: boolPtr(true)}}}
	Register(tag, func() Driver {
		return &fakeDriver{describe: Describe{}, handle: handle}
	})

	a := arbiter.New(hal.NewStub(), zerolog.Nop())
	require.NoError(t, a.Manage(5, arbiter.Limits{MaxContinuousHigh: time.Minute, MinIntervalBetweenHi: time.Hour}))
	// trip the min-interval interlock by completing one HIGH period first
	_, err := a.Set(5, true)
	require.NoError(t, err)
	_, err = a.Set(5, false)
	require.NoError(t, err)

	log := &fakeLog{}
	c := model.Controller{ID: "c4", ControllerType: tag}
	inst, err := Open(c, a, log, fakeKindLookup{})
	require.NoError(t, err)

	require.NoError(t, inst.Process(time.Now(), &fakeReadings{values: map[string]model.Measurement{}}))
	require.Len(t, log.entries, 1)
	assert.Equal(t, model.ActionSafetyRefused, log.entries[0].Kind)
}

func boolPtr(b bool) *bool { return &b }
