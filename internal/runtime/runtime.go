// Package runtime assembles the device-and-control process from its
// configured sensors and controllers: an explicit-lifecycle Runtime value
// the caller constructs, starts, and stops, replacing the global-var
// wiring thatsimonsguy-hvac-controller uses for its db/env/datadog
// packages (spec §9's design-notes correction).
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/config"
	"github.com/greenhaven/hydro-controller/internal/db"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/metrics"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/publish"
	"github.com/greenhaven/hydro-controller/internal/scheduler"
	"github.com/greenhaven/hydro-controller/internal/sensor"
	"github.com/greenhaven/hydro-controller/internal/sensor/drivers"

	"github.com/greenhaven/hydro-controller/internal/controller"
	_ "github.com/greenhaven/hydro-controller/internal/controller/dosing"
	_ "github.com/greenhaven/hydro-controller/internal/controller/pumptimer"

	"github.com/greenhaven/hydro-controller/internal/store"
)

// Runtime owns every long-lived collaborator and their lifecycle. No
// package-level state; every method operates on a constructed *Runtime.
type Runtime struct {
	cfg       config.RuntimeConfig
	log       zerolog.Logger
	database  *db.DB
	bus       hal.Bus
	actuators *arbiter.Arbiter
	measures  *store.Store
	sched     *scheduler.Scheduler
	publisher publish.Publisher
	dogstatsd *metrics.Dogstatsd
	promreg   *metrics.Prometheus

	sensors     map[string]*sensor.Instance
	controllers map[string]*controller.Instance

	retention time.Duration
	cron      *cron.Cron
}

// Options bundles the collaborators that vary between a real deployment
// and a test/dry-run harness.
type Options struct {
	Bus       hal.Bus // nil selects the real platform bus
	Publisher publish.Publisher
	Dogstatsd *metrics.Dogstatsd
}

// New wires a Runtime from a validated RuntimeConfig. It opens the
// database, builds the arbiter and every managed pin, opens every enabled
// sensor and controller, and restores the measurement store's persisted
// window. It does not start the scheduler loop; call Run for that.
func New(cfg config.RuntimeConfig, log zerolog.Logger, opts Options) (*Runtime, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus := opts.Bus
	if bus == nil {
		real, err := hal.NewReal()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("open hal bus: %w", err)
		}
		bus = real
	}

	actuators := arbiter.New(bus, log)
	for _, p := range cfg.OutputPins {
		limits := arbiter.Limits{
			MaxContinuousHigh:    time.Duration(p.MaxContinuousHighSecs) * time.Second,
			MinIntervalBetweenHi: time.Duration(p.MinIntervalBetweenHiSecs) * time.Second,
		}
		if limits.MaxContinuousHigh == 0 {
			limits = arbiter.DefaultLimits()
		}
		if err := actuators.Manage(p.Pin, limits); err != nil {
			database.Close()
			return nil, fmt.Errorf("manage output pin %d: %w", p.Pin, err)
		}
	}

	if err := actuators.ValidateStartupPins(); err != nil {
		database.Close()
		return nil, fmt.Errorf("validate startup pin states: %w", err)
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = publish.Noop{}
	}

	rt := &Runtime{
		cfg:         cfg,
		log:         log,
		database:    database,
		bus:         bus,
		actuators:   actuators,
		measures:    store.New(database),
		sched:       scheduler.New(actuators, log),
		publisher:   publisher,
		dogstatsd:   opts.Dogstatsd,
		promreg:     metrics.NewPrometheus(),
		sensors:     map[string]*sensor.Instance{},
		controllers: map[string]*controller.Instance{},
		retention:   time.Duration(cfg.Retention.WindowHours) * time.Hour,
		cron:        cron.New(),
	}

	if err := rt.seedConfiguredEntities(); err != nil {
		database.Close()
		return nil, err
	}
	if err := rt.openSensors(); err != nil {
		database.Close()
		return nil, err
	}
	if err := rt.openControllers(); err != nil {
		database.Close()
		return nil, err
	}
	rt.wireTemperatureProviders()
	rt.scheduleTasks()
	if err := rt.scheduleRetentionSweep(); err != nil {
		database.Close()
		return nil, err
	}
	return rt, nil
}

// scheduleRetentionSweep registers the midnight purge of persisted
// measurements and controller actions older than the configured retention
// window, run by its own cron.Cron loop rather than the cooperative
// scheduler since it is a calendar-driven maintenance task, not a
// per-entity read/process tick.
func (rt *Runtime) scheduleRetentionSweep() error {
	_, err := rt.cron.AddFunc("0 0 * * *", rt.runRetentionSweep)
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	return nil
}

func (rt *Runtime) runRetentionSweep() {
	cutoff := time.Now().Add(-rt.retention)
	measurements, err := rt.database.PurgeOlderThan(cutoff)
	if err != nil {
		rt.log.Error().Err(err).Msg("retention sweep: purge measurements failed")
	} else {
		rt.log.Info().Int64("rows", measurements).Msg("retention sweep: purged stale measurements")
	}
	actions, err := rt.database.PurgeActionsOlderThan(cutoff)
	if err != nil {
		rt.log.Error().Err(err).Msg("retention sweep: purge controller actions failed")
	} else {
		rt.log.Info().Int64("rows", actions).Msg("retention sweep: purged stale controller actions")
	}
}

func (rt *Runtime) seedConfiguredEntities() error {
	for _, sc := range rt.cfg.Sensors {
		m, err := sc.ToModel()
		if err != nil {
			return err
		}
		if err := rt.database.UpsertSensor(m); err != nil {
			return fmt.Errorf("seed sensor %s: %w", m.ID, err)
		}
	}
	for _, cc := range rt.cfg.Controllers {
		m, err := cc.ToModel()
		if err != nil {
			return err
		}
		if err := rt.database.UpsertController(m); err != nil {
			return fmt.Errorf("seed controller %s: %w", m.ID, err)
		}
	}
	return nil
}

func (rt *Runtime) openSensors() error {
	sensors, err := rt.database.AllSensors()
	if err != nil {
		return fmt.Errorf("load sensors: %w", err)
	}
	for _, s := range sensors {
		if !s.Enabled {
			continue
		}
		inst, err := sensor.Open(s, rt.bus)
		if err != nil {
			rt.log.Error().Str("sensor_id", s.ID).Err(err).Msg("failed to open sensor, skipping")
			continue
		}
		if err := rt.measures.Restore(s.ID); err != nil {
			rt.log.Warn().Str("sensor_id", s.ID).Err(err).Msg("failed to restore persisted measurements")
		}
		rt.sensors[s.ID] = inst
	}
	return nil
}

func (rt *Runtime) openControllers() error {
	controllers, err := rt.database.AllControllers()
	if err != nil {
		return fmt.Errorf("load controllers: %w", err)
	}
	for _, c := range controllers {
		if !c.Enabled {
			continue
		}
		inst, err := controller.Open(c, rt.actuators, rt.database, rt)
		if err != nil {
			rt.log.Error().Str("controller_id", c.ID).Err(err).Msg("failed to open controller, skipping")
			continue
		}
		rt.controllers[c.ID] = inst
	}
	return nil
}

// MeasurementKindOf implements controller.SensorKindLookup, resolving a
// bound sensor id to the measurement kind its open driver produces.
func (rt *Runtime) MeasurementKindOf(sensorID string) (model.MeasurementKind, bool) {
	inst, ok := rt.sensors[sensorID]
	if !ok {
		return "", false
	}
	return inst.Describe().MeasurementKind, true
}

// wireTemperatureProviders binds every open sensor whose driver implements
// drivers.TemperatureAware (the EC driver's compensation input) to the
// measurement store's latest-value cache for whatever sensor id that
// sensor's own config names as its water-temperature source. This is the
// seam between the sensor package's driver-agnostic design and the
// runtime's knowledge of sibling sensors.
func (rt *Runtime) wireTemperatureProviders() {
	for id, inst := range rt.sensors {
		ta, ok := inst.Handle().(drivers.TemperatureAware)
		if !ok {
			continue
		}
		tempSensorID, ok := rt.temperatureSourceFor(id)
		if !ok {
			continue
		}
		ta.SetTemperatureProvider(func() (float64, bool) {
			m, ok := rt.measures.Latest(tempSensorID)
			if !ok {
				return 0, false
			}
			return m.Value, true
		})
	}
}

// temperatureSourceFor resolves the configured water-temperature sensor id
// for sensorID, declared via that sensor's driver config under the
// "temperature_sensor_id" key.
func (rt *Runtime) temperatureSourceFor(sensorID string) (string, bool) {
	for _, sc := range rt.cfg.Sensors {
		if sc.ID != sensorID {
			continue
		}
		id, ok := sc.DriverConfig["temperature_sensor_id"].(string)
		return id, ok && id != ""
	}
	return "", false
}

func (rt *Runtime) scheduleTasks() {
	for id, inst := range rt.sensors {
		id, inst := id, inst
		rt.sched.AddTask("sensor:"+id, inst.Sensor.UpdateInterval, func(ctx context.Context, now time.Time) error {
			return rt.runSensorTick(id, inst, now)
		})
	}
	for id, inst := range rt.controllers {
		id, inst := id, inst
		rt.sched.AddTask("controller:"+id, inst.Controller.UpdateInterval, func(ctx context.Context, now time.Time) error {
			return rt.runControllerTick(id, inst, now)
		})
	}
}

func (rt *Runtime) runSensorTick(id string, inst *sensor.Instance, now time.Time) error {
	results, err := inst.ReadCalibrated(now)
	if err != nil {
		rt.promreg.SensorReadErrors.WithLabelValues(id, classifyError(err)).Inc()
		return err
	}
	rt.promreg.SensorReads.WithLabelValues(id).Inc()

	for _, r := range results {
		if err := rt.measures.Append(r.Measurement); err != nil {
			return herr.Wrap("persistent", fmt.Errorf("sensor %s: append measurement: %w", id, err))
		}
		if err := rt.database.UpdateSensorLastMeasurementAt(id, now); err != nil {
			rt.log.Warn().Str("sensor_id", id).Err(err).Msg("failed to update last_measurement_at")
		}
		rt.promreg.SensorLastValue.WithLabelValues(id, r.Measurement.Unit).Set(r.Measurement.Value)
		rt.dogstatsd.Gauge("hydro.sensor.value", r.Measurement.Value, "sensor_id:"+id)
		if err := rt.publisher.PublishMeasurement(r.Measurement); err != nil {
			rt.log.Warn().Str("sensor_id", id).Err(err).Msg("failed to publish measurement")
		}
	}
	return nil
}

func (rt *Runtime) runControllerTick(id string, inst *controller.Instance, now time.Time) error {
	if err := inst.Process(now, rt.measures); err != nil {
		return err
	}
	if err := rt.database.UpdateControllerLastRunAt(id, now); err != nil {
		rt.log.Warn().Str("controller_id", id).Err(err).Msg("failed to update last_run_at")
	}
	rt.promreg.ControllerActions.WithLabelValues(id, "processed").Inc()
	return nil
}

func classifyError(err error) string {
	var cfgErr *herr.Configuration
	var persistentErr *herr.Persistent
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &persistentErr):
		return "persistent"
	default:
		return "transient"
	}
}

// Run starts the retention-sweep cron and the scheduler loop, blocking
// until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) {
	rt.cron.Start()
	rt.sched.Run(ctx)
}

// Shutdown stops the cron loop, stops the scheduler (invoking arbiter
// panic-off), closes every sensor/controller handle, and closes the
// database.
func (rt *Runtime) Shutdown(gracePeriod time.Duration) error {
	<-rt.cron.Stop().Done()
	if err := rt.sched.Shutdown(gracePeriod); err != nil {
		rt.log.Error().Err(err).Msg("panic-off failed during shutdown")
	}
	for id, inst := range rt.sensors {
		if err := inst.Close(); err != nil {
			rt.log.Warn().Str("sensor_id", id).Err(err).Msg("failed to close sensor")
		}
	}
	for id, inst := range rt.controllers {
		if err := inst.Close(); err != nil {
			rt.log.Warn().Str("controller_id", id).Err(err).Msg("failed to close controller")
		}
	}
	if err := rt.publisher.Close(); err != nil {
		rt.log.Warn().Err(err).Msg("failed to close publisher")
	}
	return rt.database.Close()
}

// Sensors exposes the latest-value reader the status surface needs.
func (rt *Runtime) Sensors() *store.Store { return rt.measures }

// Actuators exposes the arbiter the status surface needs.
func (rt *Runtime) Actuators() *arbiter.Arbiter { return rt.actuators }

// Scheduler exposes the scheduler the status surface needs.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Metrics exposes the prometheus registry the status surface mounts.
func (rt *Runtime) Metrics() *metrics.Prometheus { return rt.promreg }
