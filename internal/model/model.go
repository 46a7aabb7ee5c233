// Package model defines the data model shared across the device-and-control
// runtime: sensors, measurements, calibration points, controllers, action
// log entries, and output pins. It holds no behavior beyond small
// invariant-preserving helpers; drivers, controllers, and the arbiter own
// the behavior that operates on these types.
package model

import "time"

// MeasurementKind enumerates the physical quantities a driver can produce.
type MeasurementKind string

const (
	KindTemperature MeasurementKind = "temperature"
	KindHumidity    MeasurementKind = "humidity"
	KindPH          MeasurementKind = "ph"
	KindORP         MeasurementKind = "orp"
	KindEC          MeasurementKind = "ec"
	KindPressure    MeasurementKind = "pressure"
	KindWaterLevel  MeasurementKind = "water_level"
	KindGeneric     MeasurementKind = "generic"
)

// CalibrationStyle names the calibration shape a driver expects, used for
// config-schema validation at sensor create/update time.
type CalibrationStyle string

const (
	CalibrationNone       CalibrationStyle = "none"
	CalibrationTwoPointPH CalibrationStyle = "two_point_ph"
	CalibrationOffsetORP  CalibrationStyle = "offset_orp"
	CalibrationFactorEC   CalibrationStyle = "factor_ec"
	CalibrationPiecewise  CalibrationStyle = "piecewise"
)

// Sensor is the persisted identity and configuration of one physical
// measurement channel.
type Sensor struct {
	ID                string
	Name              string
	DriverTag         string
	Description       string
	Enabled           bool
	UpdateInterval    time.Duration
	Config            []byte // opaque, driver-specific; validated by the driver's schema
	CalibrationData   []byte // opaque; decoded by calibration.Set
	LastMeasurementAt time.Time // zero value means "never"
}

// Measurement is an immutable, insertion-ordered record of one calibrated
// reading.
type Measurement struct {
	SensorID  string
	Timestamp time.Time
	Kind      MeasurementKind
	Value     float64
	Unit      string
	RawValue  *float64
}

// CalibrationPoint is one (raw, real) pair in a sensor's calibration set.
type CalibrationPoint struct {
	Raw  float64
	Real float64
}

// Controller is the persisted identity and configuration of one closed-loop
// process.
type Controller struct {
	ID             string
	Name           string
	ControllerType string
	Description    string
	Enabled        bool
	UpdateInterval time.Duration
	Config         []byte
	LastRunAt      time.Time
	BoundSensors   map[string]string // role -> sensor id
}

// ControllerActionKind enumerates the shapes of log entry a controller can
// append.
type ControllerActionKind string

const (
	ActionDoseUp         ControllerActionKind = "dose_up"
	ActionDoseDown       ControllerActionKind = "dose_down"
	ActionDoseSaturation ControllerActionKind = "dose_saturation"
	ActionStaleReading   ControllerActionKind = "stale_reading"
	ActionPumpStart      ControllerActionKind = "pump_start"
	ActionPumpStop       ControllerActionKind = "pump_stop"
	ActionForceOverride  ControllerActionKind = "force_override"
	ActionSafetyRefused  ControllerActionKind = "safety_refused"
)

// ControllerAction is an append-only log entry describing one decision a
// controller made during a process step.
type ControllerAction struct {
	ControllerID string
	Timestamp    time.Time
	Kind         ControllerActionKind
	Details      string // free-form text
}

// PinLevel is the instantaneous logical state of a managed output pin.
type PinLevel int

const (
	PinLow PinLevel = iota
	PinHigh
	PinPulsing
)

func (p PinLevel) String() string {
	switch p {
	case PinLow:
		return "low"
	case PinHigh:
		return "high"
	case PinPulsing:
		return "pulsing"
	default:
		return "unknown"
	}
}

// PinState is a snapshot of one managed pin.
type PinState struct {
	Pin     int
	Level   PinLevel
	EndTime time.Time // meaningful only when Level == PinPulsing
}
