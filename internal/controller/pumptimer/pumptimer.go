// Package pumptimer implements the temperature-driven circulation pump
// timer (component I): a daily window, a temperature-derived daily runtime
// target, min/max run bounds, periodic re-sampling, and a manual force
// override.
package pumptimer

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/greenhaven/hydro-controller/internal/controller"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

func init() {
	controller.Register("pump_timer", func() controller.Driver { return &driver{} })
}

// Threshold is one (floor temperature, daily runtime) pair.
type Threshold struct {
	FloorC        float64 `json:"floor_c"`
	RuntimeMinutes int    `json:"runtime_minutes"`
}

// Config mirrors spec §4.I.
type Config struct {
	PumpPin                int         `json:"pump_pin"`
	StartHour              int         `json:"start_hour"`
	EndHour                int         `json:"end_hour"`
	TempThresholds         []Threshold `json:"temp_thresholds"`
	MinRunMinutes          int         `json:"min_run_time_minutes"`
	MaxRunMinutes          int         `json:"max_run_time_minutes"`
	TempCheckDelayMinutes  int         `json:"temp_check_delay_minutes"`
	TemperatureRole        string      `json:"temperature_role"`
}

func (c Config) temperatureRole() string {
	if c.TemperatureRole == "" {
		return "temperature"
	}
	return c.TemperatureRole
}

type driver struct{}

func (d *driver) Describe() controller.Describe {
	return controller.Describe{RequiredSensorRoles: map[string]model.MeasurementKind{"temperature": model.KindTemperature}}
}

func (d *driver) Open(configData []byte) (controller.Handle, error) {
	var cfg Config
	if len(configData) == 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("pumptimer: empty config"))
	}
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, herr.Wrap("configuration", fmt.Errorf("pumptimer: decode config: %w", err))
	}
	if cfg.MinRunMinutes <= 0 || cfg.MaxRunMinutes < cfg.MinRunMinutes {
		return nil, herr.Wrap("configuration", fmt.Errorf("pumptimer: min_run_time_minutes must be positive and <= max_run_time_minutes"))
	}
	if len(cfg.TempThresholds) == 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("pumptimer: temp_thresholds must be non-empty"))
	}
	sorted := append([]Threshold(nil), cfg.TempThresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FloorC < sorted[j].FloorC })
	cfg.TempThresholds = sorted

	return &handle{cfg: cfg}, nil
}

type handle struct {
	cfg Config

	dayStamp           string
	todayTargetMinutes int
	ranTodayMinutes    float64
	runStartedAt       time.Time // zero when not running
	lastRunEndedAt     time.Time
	forceRunUntil      time.Time
	isForcedRun        bool

	checkedTempThisRun bool
}

func (h *handle) Close() error { return nil }

func (h *handle) ActuatorPins() []int { return []int{h.cfg.PumpPin} }

func targetFor(thresholds []Threshold, temp float64, minM, maxM int) int {
	target := minM
	for _, th := range thresholds {
		if temp >= th.FloorC {
			target = th.RuntimeMinutes
		}
	}
	if target < minM {
		target = minM
	}
	if target > maxM {
		target = maxM
	}
	return target
}

func inWindow(now time.Time, startHour, endHour int) bool {
	h := now.Hour()
	if startHour == endHour {
		return true
	}
	if startHour < endHour {
		return h >= startHour && h < endHour
	}
	// wrap across midnight
	return h >= startHour || h < endHour
}

func (h *handle) rolloverDay(now time.Time) {
	stamp := now.UTC().Format("2006-01-02")
	if h.dayStamp != stamp {
		h.dayStamp = stamp
		h.ranTodayMinutes = 0
		h.todayTargetMinutes = 0
		// force_run_until is preserved across the reset per spec §4.I
	}
}

// SetForceRunUntil implements the API-facing manual override (spec §6,
// "outputs ... pulse/force run") for this controller type.
func (h *handle) SetForceRunUntil(t time.Time) {
	h.forceRunUntil = t
}

func (h *handle) Process(now time.Time, readings map[string]model.Measurement) ([]controller.ActionRequest, error) {
	h.rolloverDay(now)

	if h.forceRunUntil.After(now) {
		if h.runStartedAt.IsZero() {
			h.runStartedAt = now
			h.isForcedRun = true
			return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(true), ActionKind: model.ActionForceOverride, Details: "force_run_until active"}}, nil
		}
		return nil, nil
	}
	if h.isForcedRun {
		h.closeRun(now)
		h.isForcedRun = false
		return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(false), ActionKind: model.ActionPumpStop, Details: "force_run_until elapsed"}}, nil
	}

	reading, haveTemp := readings[h.cfg.temperatureRole()]
	if h.todayTargetMinutes == 0 && haveTemp {
		h.todayTargetMinutes = targetFor(h.cfg.TempThresholds, reading.Value, h.cfg.MinRunMinutes, h.cfg.MaxRunMinutes)
	}

	if !inWindow(now, h.cfg.StartHour, h.cfg.EndHour) {
		if !h.runStartedAt.IsZero() {
			h.closeRun(now)
			return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(false), ActionKind: model.ActionPumpStop, Details: "outside daily window"}}, nil
		}
		return nil, nil
	}

	if h.ranTodayMinutes >= float64(h.todayTargetMinutes) {
		if !h.runStartedAt.IsZero() && h.elapsedMinutes(now) >= float64(h.cfg.MinRunMinutes) {
			h.closeRun(now)
			return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(false), ActionKind: model.ActionPumpStop, Details: "today_target reached"}}, nil
		}
		if h.runStartedAt.IsZero() {
			return nil, nil
		}
		// inside min_run_time floor; keep running this tick
		return nil, nil
	}

	if h.runStartedAt.IsZero() {
		h.runStartedAt = now
		h.checkedTempThisRun = false
		return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(true), ActionKind: model.ActionPumpStart, Details: fmt.Sprintf("today_target=%dmin", h.todayTargetMinutes)}}, nil
	}

	elapsed := h.elapsedMinutes(now)
	if !h.checkedTempThisRun && elapsed >= float64(h.cfg.TempCheckDelayMinutes) && haveTemp {
		h.checkedTempThisRun = true
		h.todayTargetMinutes = targetFor(h.cfg.TempThresholds, reading.Value, h.cfg.MinRunMinutes, h.cfg.MaxRunMinutes)
	}

	if elapsed >= float64(h.cfg.MaxRunMinutes) {
		h.closeRun(now)
		return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(false), ActionKind: model.ActionPumpStop, Details: "max_run_time reached"}}, nil
	}

	if elapsed >= float64(h.cfg.MinRunMinutes) && h.ranTodayMinutes+elapsed >= float64(h.todayTargetMinutes) {
		h.closeRun(now)
		return []controller.ActionRequest{{HasPinOp: true, Pin: h.cfg.PumpPin, Set: boolPtr(false), ActionKind: model.ActionPumpStop, Details: "today_target reached mid-run"}}, nil
	}

	return nil, nil
}

func (h *handle) elapsedMinutes(now time.Time) float64 {
	if h.runStartedAt.IsZero() {
		return 0
	}
	return now.Sub(h.runStartedAt).Minutes()
}

func (h *handle) closeRun(now time.Time) {
	h.ranTodayMinutes += h.elapsedMinutes(now)
	h.lastRunEndedAt = now
	h.runStartedAt = time.Time{}
	h.checkedTempThisRun = false
}

func boolPtr(b bool) *bool { return &b }
