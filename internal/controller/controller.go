// Package controller implements the controller lifecycle framework
// (component G): role resolution from bound sensors, action application
// through the output arbiter, and action-log appends. Concrete variants
// (dosing, pumptimer) implement the Driver interface this package defines.
package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

// Describe is the static capability metadata of a controller variant.
// ActuatorPins is not part of this: GPIO assignment is per installation
// and is resolved from config at Open time via Handle.ActuatorPins.
// RequiredSensorRoles maps each role name to the measurement kind a sensor
// bound to that role must produce; Open rejects a binding whose driver
// produces a different kind.
type Describe struct {
	RequiredSensorRoles map[string]model.MeasurementKind
}

// SensorKindLookup resolves the measurement kind the open driver behind a
// sensor id produces, so Open can check a role's binding against the
// driver's required kind without depending on the sensor package directly.
type SensorKindLookup interface {
	MeasurementKindOf(sensorID string) (model.MeasurementKind, bool)
}

// ActionRequest is one arbiter operation a Process step wants applied,
// alongside the log entry describing why.
type ActionRequest struct {
	Pin         int // used only when HasPinOp is true; HasPinOp false means log only
	HasPinOp    bool
	Set         *bool         // non-nil: Set(Pin, *Set)
	PulseFor    time.Duration // > 0: Pulse(Pin, PulseFor); mutually exclusive with Set
	ActionKind  model.ControllerActionKind
	Details     string
}

// Handle is an opaque per-instance controller handle returned by Open. Its
// ActuatorPins are resolved from config (GPIO assignment is per
// installation, not per variant), unlike the driver's static Describe.
type Handle interface {
	// Process runs one step given the latest reading per bound role.
	// Readings missing a role entirely means that role's sensor has never
	// produced a measurement; a role present with a stale measurement is
	// the Handle's own responsibility to detect (spec §4.H.5).
	Process(now time.Time, readings map[string]model.Measurement) ([]ActionRequest, error)
	ActuatorPins() []int
	Close() error
}

// Driver is a compiled-in controller variant identified by a registry tag.
type Driver interface {
	Describe() Describe
	Open(config []byte) (Handle, error)
}

type Constructor func() Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

func Register(tag string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[tag]; exists {
		panic(fmt.Sprintf("controller: driver tag %q registered twice", tag))
	}
	registry[tag] = ctor
}

func Lookup(tag string) (Driver, error) {
	registryMu.RLock()
	ctor, ok := registry[tag]
	registryMu.RUnlock()
	if !ok {
		return nil, herr.Wrap("configuration", fmt.Errorf("controller: unknown driver tag %q", tag))
	}
	return ctor(), nil
}

// ActionLog receives every ControllerAction a controller's Process step
// produces, append-only.
type ActionLog interface {
	Append(model.ControllerAction) error
}

// ReadingSource resolves the latest measurement for a sensor id.
type ReadingSource interface {
	Latest(sensorID string) (model.Measurement, bool)
}

// Instance binds a Controller's persisted identity to its open driver
// handle, its resolved sensor-role bindings, and the arbiter it is allowed
// to actuate through.
type Instance struct {
	mu sync.Mutex

	Controller model.Controller
	driver     Driver
	describe   Describe
	handle     Handle
	actuators  *arbiter.Arbiter
	log        ActionLog
	pinSet     map[int]bool
}

// Open resolves controller.BoundSensors against the driver's required
// roles, rejecting any controller that leaves a required role unfilled or
// binds a role to a sensor whose driver produces the wrong measurement
// kind (spec invariant: a controller may only be enabled if every required
// role is bound to a sensor producing that role's required kind), and opens
// the driver handle.
func Open(c model.Controller, actuators *arbiter.Arbiter, log ActionLog, sensors SensorKindLookup) (*Instance, error) {
	driver, err := Lookup(c.ControllerType)
	if err != nil {
		return nil, err
	}
	describe := driver.Describe()
	for role, wantKind := range describe.RequiredSensorRoles {
		sensorID, ok := c.BoundSensors[role]
		if !ok {
			return nil, herr.Wrap("configuration", fmt.Errorf("controller %s: role %q is not bound to a sensor", c.ID, role))
		}
		gotKind, ok := sensors.MeasurementKindOf(sensorID)
		if !ok {
			return nil, herr.Wrap("configuration", fmt.Errorf("controller %s: role %q bound to unknown sensor %q", c.ID, role, sensorID))
		}
		if gotKind != wantKind {
			return nil, herr.Wrap("configuration", fmt.Errorf("controller %s: role %q requires measurement kind %q, bound sensor %q produces %q", c.ID, role, wantKind, sensorID, gotKind))
		}
	}
	handle, err := driver.Open(c.Config)
	if err != nil {
		return nil, err
	}
	actuatorPins := handle.ActuatorPins()
	pinSet := make(map[int]bool, len(actuatorPins))
	for _, p := range actuatorPins {
		pinSet[p] = true
	}
	return &Instance{Controller: c, driver: driver, describe: describe, handle: handle, actuators: actuators, log: log, pinSet: pinSet}, nil
}

// Process resolves each required role to its latest reading, invokes the
// driver's Process, applies every returned action through the arbiter
// (rejecting any that names a pin outside actuator_pins, per invariant 2),
// and appends the resulting action-log entries.
func (i *Instance) Process(now time.Time, sensors ReadingSource) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	readings := make(map[string]model.Measurement, len(i.Controller.BoundSensors))
	for role, sensorID := range i.Controller.BoundSensors {
		if m, ok := sensors.Latest(sensorID); ok {
			readings[role] = m
		}
	}

	actions, err := i.handle.Process(now, readings)
	if err != nil {
		return err
	}

	for _, a := range actions {
		if a.HasPinOp {
			if !i.pinSet[a.Pin] {
				return herr.Wrap("configuration", fmt.Errorf("controller %s: action targets undeclared pin %d", i.Controller.ID, a.Pin))
			}
			if err := i.applyPinOp(a); err != nil {
				// safety refusals are logged by the arbiter and surfaced
				// here as an action-log entry, not aborted
				entry := model.ControllerAction{
					ControllerID: i.Controller.ID,
					Timestamp:    now,
					Kind:         model.ActionSafetyRefused,
					Details:      err.Error(),
				}
				_ = i.log.Append(entry)
				continue
			}
		}
		if a.ActionKind != "" {
			entry := model.ControllerAction{
				ControllerID: i.Controller.ID,
				Timestamp:    now,
				Kind:         a.ActionKind,
				Details:      a.Details,
			}
			if err := i.log.Append(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Instance) applyPinOp(a ActionRequest) error {
	if a.PulseFor > 0 {
		_, err := i.actuators.Pulse(a.Pin, a.PulseFor)
		return err
	}
	if a.Set != nil {
		_, err := i.actuators.Set(a.Pin, *a.Set)
		return err
	}
	return nil
}

// Close releases the instance's driver handle.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle.Close()
}
