// Package sensor implements the driver lifecycle and compile-time registry
// (component D): describe/open/read/close, multi-output readings, and the
// read-calibrate-persist pipeline the scheduler drives per sensor.
package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/greenhaven/hydro-controller/internal/calibration"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

// Reading is one (kind, raw, unit) tuple a driver produces from a single
// Read call. Single-output drivers return a length-1 slice.
type Reading struct {
	Kind model.MeasurementKind
	Raw  float64
	Unit string
}

// Describe is the static capability metadata of a driver variant.
type Describe struct {
	MeasurementKind  model.MeasurementKind // primary kind; multi-output drivers report the rest via Reading.Kind
	Unit             string
	CalibrationStyle model.CalibrationStyle
}

// Handle is an opaque per-instance driver handle returned by Open.
type Handle interface {
	// Read performs one sample. It may fail transiently (bus busy, timeout).
	Read() ([]Reading, error)
	// Close releases any GPIO/I2C lines the handle acquired.
	Close() error
}

// Driver is a compiled-in variant identified by a registry tag.
type Driver interface {
	Describe() Describe
	// Open validates config (opaque, driver-specific JSON) and acquires
	// hardware resources through bus. Returns a *herr.Configuration error
	// for schema violations, a *herr.Persistent error if a declared
	// resource (pin, bus, 1-Wire id) is unavailable.
	Open(config []byte, bus hal.Bus) (Handle, error)
}

// Constructor builds a fresh, stateless Driver instance for the registry.
type Constructor func() Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register installs a driver constructor under tag. Called from package
// init in internal/sensor/drivers; a tag registered twice panics, since
// that can only happen from a programming error at compile time.
func Register(tag string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[tag]; exists {
		panic(fmt.Sprintf("sensor: driver tag %q registered twice", tag))
	}
	registry[tag] = ctor
}

// Lookup returns a fresh Driver instance for tag, or an error if the tag
// is not in the compiled-in registry.
func Lookup(tag string) (Driver, error) {
	registryMu.RLock()
	ctor, ok := registry[tag]
	registryMu.RUnlock()
	if !ok {
		return nil, herr.Wrap("configuration", fmt.Errorf("sensor: unknown driver tag %q", tag))
	}
	return ctor(), nil
}

// Tags lists every registered driver tag, for config-schema validation and
// the status surface.
func Tags() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for tag := range registry {
		out = append(out, tag)
	}
	return out
}

// Instance binds a Sensor's persisted identity to its open driver handle
// and calibration set, and serializes access to both across the
// scheduler's read tick and any concurrent API mutation of config.
type Instance struct {
	mu sync.Mutex

	Sensor model.Sensor
	driver Driver
	handle Handle
	cal    calibration.Set
}

// Open validates sensor.Config against driver and acquires its handle.
func Open(sensor model.Sensor, bus hal.Bus) (*Instance, error) {
	driver, err := Lookup(sensor.DriverTag)
	if err != nil {
		return nil, err
	}
	handle, err := driver.Open(sensor.Config, bus)
	if err != nil {
		return nil, err
	}
	cal, err := calibration.Decode(sensor.CalibrationData)
	if err != nil {
		_ = handle.Close()
		return nil, herr.Wrap("configuration", fmt.Errorf("sensor %s: decode calibration: %w", sensor.ID, err))
	}
	return &Instance{Sensor: sensor, driver: driver, handle: handle, cal: cal}, nil
}

// Describe exposes the instance's driver capability metadata, so the
// controller package can validate a bound sensor's measurement kind
// against a controller's required role at Open time.
func (i *Instance) Describe() Describe {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.driver.Describe()
}

// Handle exposes the instance's open driver handle so the runtime can
// probe it for optional capability interfaces (e.g. drivers/TemperatureAware)
// that are wired after Open but are not part of the Handle contract itself.
func (i *Instance) Handle() Handle {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle
}

// Calibration returns the instance's current calibration set.
func (i *Instance) Calibration() calibration.Set {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cal
}

// SetCalibration atomically replaces the instance's calibration set,
// satisfying the clone-on-evaluate requirement: a Read in flight when this
// is called evaluated against the calibration Set value it already copied.
func (i *Instance) SetCalibration(cal calibration.Set) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cal = cal
}

// Result is one calibrated measurement ready for the store, alongside the
// raw value the driver produced.
type Result struct {
	Measurement model.Measurement
	Raw         float64
}

// ReadCalibrated runs the driver's Read, evaluates calibration against each
// reading, and stamps the result with the current time. It does not touch
// the store or the latest-value cache; callers (the scheduler's sensor
// task) own that side effect so tests can exercise this in isolation.
func (i *Instance) ReadCalibrated(now time.Time) ([]Result, error) {
	i.mu.Lock()
	handle := i.handle
	cal := i.cal
	sensorID := i.Sensor.ID
	i.mu.Unlock()

	readings, err := handle.Read()
	if err != nil {
		return nil, herr.Wrap("transient", fmt.Errorf("sensor %s: read: %w", sensorID, err))
	}

	out := make([]Result, len(readings))
	for idx, r := range readings {
		out[idx] = Result{
			Raw: r.Raw,
			Measurement: model.Measurement{
				SensorID:  sensorID,
				Timestamp: now,
				Kind:      r.Kind,
				Value:     cal.Evaluate(r.Raw),
				Unit:      r.Unit,
				RawValue:  &r.Raw,
			},
		}
	}
	return out, nil
}

// Close releases the instance's driver handle.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle.Close()
}
