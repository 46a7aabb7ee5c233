package dosing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/controller"
	"github.com/greenhaven/hydro-controller/internal/model"
)

func openHandle(t *testing.T, cfg Config) controller.Handle {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	d := &driver{}
	h, err := d.Open(data)
	require.NoError(t, err)
	return h
}

func reading(role string, value float64, ts time.Time) map[string]model.Measurement {
	return map[string]model.Measurement{role: {SensorID: "s1", Value: value, Timestamp: ts}}
}

func TestProcess_WithinToleranceIsIdle(t *testing.T) {
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 60, UpdateIntervalSeconds: 10})
	now := time.Now()
	actions, err := h.Process(now, reading("primary", 6.1, now))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestProcess_DosingScenario(t *testing.T) {
	// spec §8 scenario 2
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 60, UpdateIntervalSeconds: 10})
	t0 := time.Now()

	actions, err := h.Process(t0, reading("primary", 5.5, t0))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionDoseUp, actions[0].ActionKind)
	assert.Equal(t, 500*time.Millisecond, actions[0].PulseFor)

	actions, err = h.Process(t0.Add(10*time.Second), reading("primary", 5.6, t0.Add(10*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, actions, "still within cooldown")

	actions, err = h.Process(t0.Add(20*time.Second), reading("primary", 5.7, t0.Add(20*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, actions, "still within cooldown")

	actions, err = h.Process(t0.Add(70*time.Second), reading("primary", 5.7, t0.Add(70*time.Second)))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionDoseUp, actions[0].ActionKind)
}

func TestProcess_StaleReadingProducesNoAction(t *testing.T) {
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 60, UpdateIntervalSeconds: 10})
	now := time.Now()
	stale := now.Add(-40 * time.Second) // > 3*10s
	actions, err := h.Process(now, reading("primary", 5.5, stale))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStaleReading, actions[0].ActionKind)
}

func TestProcess_DailyMaxDosesTriggersSaturation(t *testing.T) {
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 1, DailyMaxDoses: 2, UpdateIntervalSeconds: 10})
	t0 := time.Now()

	_, err := h.Process(t0, reading("primary", 5.5, t0))
	require.NoError(t, err)

	actions, err := h.Process(t0.Add(2*time.Second), reading("primary", 5.5, t0.Add(2*time.Second)))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, model.ActionDoseUp, actions[0].ActionKind)
	assert.Equal(t, model.ActionDoseSaturation, actions[1].ActionKind)

	actions, err = h.Process(t0.Add(4*time.Second), reading("primary", 5.5, t0.Add(4*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, actions, "direction saturated for 24h")
}

func TestProcess_ReturnToIdleResetsDoseCounterBeforeSaturation(t *testing.T) {
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 1, DailyMaxDoses: 2, UpdateIntervalSeconds: 10}).(*handle)
	t0 := time.Now()

	_, err := h.Process(t0, reading("primary", 5.5, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, h.up.dosesToday)

	_, err = h.Process(t0.Add(2*time.Second), reading("primary", 6.0, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 0, h.up.dosesToday, "returning to IDLE must reset the consecutive-dose counter")

	actions, err := h.Process(t0.Add(4*time.Second), reading("primary", 5.5, t0.Add(4*time.Second)))
	require.NoError(t, err)
	require.Len(t, actions, 1, "saturation must not trigger after an intervening IDLE reset")
	assert.Equal(t, model.ActionDoseUp, actions[0].ActionKind)
	assert.Equal(t, 1, h.up.dosesToday, "this is the first dose since the IDLE reset, not the second")
}

func TestOpen_RejectsMissingDurations(t *testing.T) {
	d := &driver{}
	_, err := d.Open([]byte(`{"target":6.0,"tolerance":0.2}`))
	assert.Error(t, err)
}

func TestActuatorPins_ReportsBothPumpPins(t *testing.T) {
	h := openHandle(t, Config{Target: 6.0, Tolerance: 0.2, PinUp: 1, PinDown: 2, DoseDurationMS: 500, CooldownSeconds: 60, UpdateIntervalSeconds: 10})
	assert.ElementsMatch(t, []int{1, 2}, h.ActuatorPins())
}
