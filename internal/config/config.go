// Package config decodes the startup RuntimeConfig file (spec §6's
// configuration loader: "reads a structured file at startup and emits a
// fully-validated RuntimeConfig record ... the core refuses to start on
// schema violation"). The file syntax itself is this package's own design,
// not spec.md's concern — it only names the fields the record must carry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/greenhaven/hydro-controller/internal/calibration"
	"github.com/greenhaven/hydro-controller/internal/model"
)

// PinConfig declares one output pin the arbiter must manage before any
// controller can reference it, plus its safety interlocks (spec §4.B).
type PinConfig struct {
	Pin                   int `yaml:"pin"`
	MaxContinuousHighSecs  int `yaml:"max_continuous_high_seconds"`
	MinIntervalBetweenHiSecs int `yaml:"min_interval_between_high_seconds"`
}

// CalibrationPointConfig is one (raw, real) pair for a sensor's initial
// calibration set.
type CalibrationPointConfig struct {
	Raw  float64 `yaml:"raw"`
	Real float64 `yaml:"real"`
}

// SensorConfig is one sensor's startup-time configuration.
type SensorConfig struct {
	ID                    string                   `yaml:"id"`
	Name                  string                   `yaml:"name"`
	Description           string                   `yaml:"description"`
	DriverTag             string                   `yaml:"driver_tag"`
	Enabled               bool                     `yaml:"enabled"`
	UpdateIntervalSeconds int                      `yaml:"update_interval_seconds"`
	DriverConfig          map[string]any           `yaml:"config"`
	Calibration           []CalibrationPointConfig `yaml:"calibration"`
}

// ToModel converts the YAML-decoded sensor entry into the persisted model
// type, marshaling the opaque driver config and calibration set to the
// JSON blobs model.Sensor stores.
func (s SensorConfig) ToModel() (model.Sensor, error) {
	configJSON, err := yamlMapToJSON(s.DriverConfig)
	if err != nil {
		return model.Sensor{}, fmt.Errorf("sensor %s: encode driver config: %w", s.ID, err)
	}

	cal := calibration.New()
	for _, p := range s.Calibration {
		cal = cal.AddPoint(p.Raw, p.Real)
	}
	calBlob, err := cal.Encode()
	if err != nil {
		return model.Sensor{}, fmt.Errorf("sensor %s: encode calibration: %w", s.ID, err)
	}

	return model.Sensor{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Description,
		DriverTag:       s.DriverTag,
		Enabled:         s.Enabled,
		UpdateInterval:  time.Duration(s.UpdateIntervalSeconds) * time.Second,
		Config:          configJSON,
		CalibrationData: calBlob,
	}, nil
}

// ControllerConfig is one controller's startup-time configuration.
type ControllerConfig struct {
	ID                    string            `yaml:"id"`
	Name                  string            `yaml:"name"`
	Description           string            `yaml:"description"`
	ControllerType        string            `yaml:"controller_type"`
	Enabled               bool              `yaml:"enabled"`
	UpdateIntervalSeconds int               `yaml:"update_interval_seconds"`
	DriverConfig          map[string]any    `yaml:"config"`
	BoundSensors          map[string]string `yaml:"bound_sensors"`
}

// ToModel converts the YAML-decoded controller entry into the persisted
// model type.
func (c ControllerConfig) ToModel() (model.Controller, error) {
	configJSON, err := yamlMapToJSON(c.DriverConfig)
	if err != nil {
		return model.Controller{}, fmt.Errorf("controller %s: encode driver config: %w", c.ID, err)
	}
	return model.Controller{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		ControllerType: c.ControllerType,
		Enabled:        c.Enabled,
		UpdateInterval: time.Duration(c.UpdateIntervalSeconds) * time.Second,
		Config:         configJSON,
		BoundSensors:   c.BoundSensors,
	}, nil
}

// MQTTConfig configures the optional publish adapter (spec §6's MQTT
// publishing collaborator).
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// MetricsConfig configures the optional dogstatsd sink.
type MetricsConfig struct {
	DogstatsdAddr string `yaml:"dogstatsd_addr"`
}

// RetentionConfig sets the age cutoff of the periodic database purge sweep
// (spec §4.F.2) through WindowHours. The runtime does not read MaxPoints,
// and the in-memory measurement store keeps its own 24h / 100,000-point
// defaults.
type RetentionConfig struct {
	WindowHours int `yaml:"window_hours"`
	MaxPoints   int `yaml:"max_points"`
}

// RuntimeConfig is the fully-validated record the configuration loader
// hands the runtime, per spec §6.
type RuntimeConfig struct {
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"`
	OutputPins []PinConfig      `yaml:"output_pins"`
	Sensors    []SensorConfig   `yaml:"sensors"`
	Controllers []ControllerConfig `yaml:"controllers"`
	Retention  RetentionConfig  `yaml:"retention"`
	MQTT       *MQTTConfig      `yaml:"mqtt"`
	Metrics    *MetricsConfig   `yaml:"metrics"`
}

// Load reads and validates a RuntimeConfig file. The core refuses to start
// on schema violation, so every error here is fatal to the caller.
func Load(path string) (RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg RuntimeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if errs := cfg.validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return RuntimeConfig{}, fmt.Errorf("invalid config %s:\n  %s", path, strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

func applyDefaults(cfg *RuntimeConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Retention.WindowHours == 0 {
		cfg.Retention.WindowHours = 24
	}
	if cfg.Retention.MaxPoints == 0 {
		cfg.Retention.MaxPoints = 100_000
	}
	// An omitted id gets a stable, randomly generated one so an installer
	// can add a sensor/controller entry without hand-picking an identifier.
	for i, s := range cfg.Sensors {
		if s.ID == "" {
			cfg.Sensors[i].ID = uuid.NewString()
		}
	}
	for i, c := range cfg.Controllers {
		if c.ID == "" {
			cfg.Controllers[i].ID = uuid.NewString()
		}
	}
}

// validate mirrors the teacher's reflect-driven GPIO conflict check,
// generalized to the pin and identifier conflicts this config can express.
func (cfg RuntimeConfig) validate() []error {
	var errs []error

	if cfg.DBPath == "" {
		errs = append(errs, fmt.Errorf("db_path is required"))
	}

	seenPins := map[int]bool{}
	for _, p := range cfg.OutputPins {
		if seenPins[p.Pin] {
			errs = append(errs, fmt.Errorf("output pin %d declared more than once", p.Pin))
		}
		seenPins[p.Pin] = true
	}

	seenSensors := map[string]bool{}
	for _, s := range cfg.Sensors {
		if seenSensors[s.ID] {
			errs = append(errs, fmt.Errorf("sensor id %q declared more than once", s.ID))
		}
		seenSensors[s.ID] = true
		if s.DriverTag == "" {
			errs = append(errs, fmt.Errorf("sensor %q missing driver_tag", s.ID))
		}
		if s.UpdateIntervalSeconds <= 0 {
			errs = append(errs, fmt.Errorf("sensor %q update_interval_seconds must be positive", s.ID))
		}
	}

	seenControllers := map[string]bool{}
	for _, c := range cfg.Controllers {
		if seenControllers[c.ID] {
			errs = append(errs, fmt.Errorf("controller id %q declared more than once", c.ID))
		}
		seenControllers[c.ID] = true
		if c.ControllerType == "" {
			errs = append(errs, fmt.Errorf("controller %q missing controller_type", c.ID))
		}
		if c.UpdateIntervalSeconds <= 0 {
			errs = append(errs, fmt.Errorf("controller %q update_interval_seconds must be positive", c.ID))
		}
		for role, sensorID := range c.BoundSensors {
			if !seenSensors[sensorID] {
				errs = append(errs, fmt.Errorf("controller %q binds role %q to unknown sensor %q", c.ID, role, sensorID))
			}
		}
	}

	return errs
}
