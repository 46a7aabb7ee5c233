// Package dosing implements the pH/ORP/EC dosing controller variants
// (component H): a three-state machine per direction over a single bound
// reading, with cooldown, daily dose-saturation, and stale-reading
// detection.
package dosing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/controller"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

func init() {
	controller.Register("dosing_ph", func() controller.Driver { return &driver{dirUp: "dose_up", dirDown: "dose_down", kind: model.KindPH} })
	controller.Register("dosing_orp", func() controller.Driver { return &driver{dirUp: "dose_up", dirDown: "dose_down", kind: model.KindORP} })
	controller.Register("dosing_ec", func() controller.Driver { return &driver{dirUp: "dose_up", dirDown: "dose_down", kind: model.KindEC} })
}

// Config is the shared shape for every dosing variant. For pH, "up" is the
// base pump and "down" is the acid pump (pH rises with base); for EC, "up"
// is the nutrient pump and "down" is the water top-up pump; for ORP the
// direction naming matches the raw signal's sign.
type Config struct {
	Role                  string  `json:"role"`
	Target                float64 `json:"target"`
	Tolerance             float64 `json:"tolerance"`
	PinUp                 int     `json:"dose_pump_pin_up"`
	PinDown               int     `json:"dose_pump_pin_down"`
	DoseDurationMS        int     `json:"dose_duration_ms"`
	CooldownSeconds       int     `json:"cooldown_seconds"`
	DailyMaxDoses         int     `json:"daily_max_doses"`
	UpdateIntervalSeconds int     `json:"update_interval_seconds"`
}

func (c Config) role() string {
	if c.Role == "" {
		return "primary"
	}
	return c.Role
}

type driver struct {
	dirUp, dirDown string
	kind           model.MeasurementKind
}

func (d *driver) Describe() controller.Describe {
	return controller.Describe{RequiredSensorRoles: map[string]model.MeasurementKind{"primary": d.kind}}
}

func (d *driver) Open(configData []byte) (controller.Handle, error) {
	var cfg Config
	if len(configData) == 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("dosing: empty config"))
	}
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, herr.Wrap("configuration", fmt.Errorf("dosing: decode config: %w", err))
	}
	if cfg.Tolerance < 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("dosing: tolerance must be >= 0"))
	}
	if cfg.DoseDurationMS <= 0 || cfg.CooldownSeconds <= 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("dosing: dose_duration_ms and cooldown_seconds must be positive"))
	}
	if cfg.UpdateIntervalSeconds <= 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("dosing: update_interval_seconds must be positive"))
	}
	return &handle{cfg: cfg}, nil
}

// directionState tracks one of the two dosing directions.
type directionState struct {
	cooldownUntil  time.Time
	saturatedUntil time.Time
	dosesToday     int
	dayStamp       string // YYYY-MM-DD in UTC, for daily-counter reset
}

func (d *directionState) rolloverDay(now time.Time) {
	stamp := now.UTC().Format("2006-01-02")
	if d.dayStamp != stamp {
		d.dayStamp = stamp
		d.dosesToday = 0
	}
}

type handle struct {
	cfg Config
	up  directionState
	down directionState
}

func (h *handle) Close() error { return nil }

func (h *handle) ActuatorPins() []int { return []int{h.cfg.PinUp, h.cfg.PinDown} }

func (h *handle) Process(now time.Time, readings map[string]model.Measurement) ([]controller.ActionRequest, error) {
	h.up.rolloverDay(now)
	h.down.rolloverDay(now)

	reading, ok := readings[h.cfg.role()]
	if !ok {
		return nil, nil
	}
	staleAfter := time.Duration(3*h.cfg.UpdateIntervalSeconds) * time.Second
	if now.Sub(reading.Timestamp) > staleAfter {
		return []controller.ActionRequest{{ActionKind: model.ActionStaleReading, Details: fmt.Sprintf("reading age %s exceeds %s", now.Sub(reading.Timestamp), staleAfter)}}, nil
	}

	x := reading.Value
	switch {
	case abs(x-h.cfg.Target) <= h.cfg.Tolerance:
		h.up.dosesToday = 0
		h.down.dosesToday = 0
		return nil, nil
	case x < h.cfg.Target-h.cfg.Tolerance:
		return h.tryDose(now, &h.up, h.cfg.PinUp, model.ActionDoseUp), nil
	default:
		return h.tryDose(now, &h.down, h.cfg.PinDown, model.ActionDoseDown), nil
	}
}

func (h *handle) tryDose(now time.Time, dir *directionState, pin int, kind model.ControllerActionKind) []controller.ActionRequest {
	if now.Before(dir.saturatedUntil) {
		return nil
	}
	if now.Before(dir.cooldownUntil) {
		return nil
	}

	dir.cooldownUntil = now.Add(time.Duration(h.cfg.CooldownSeconds) * time.Second)
	dir.dosesToday++

	actions := []controller.ActionRequest{
		{HasPinOp: true, Pin: pin, PulseFor: time.Duration(h.cfg.DoseDurationMS) * time.Millisecond, ActionKind: kind, Details: fmt.Sprintf("reading triggered %s", kind)},
	}

	if h.cfg.DailyMaxDoses > 0 && dir.dosesToday >= h.cfg.DailyMaxDoses {
		dir.saturatedUntil = now.Add(24 * time.Hour)
		actions = append(actions, controller.ActionRequest{ActionKind: model.ActionDoseSaturation, Details: fmt.Sprintf("reached daily_max_doses=%d", h.cfg.DailyMaxDoses)})
	}
	return actions
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
