package drivers

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/greenhaven/hydro-controller/internal/cs1237"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

func init() {
	sensor.Register("cs1237_ec", func() sensor.Driver { return &cs1237ECDriver{} })
}

// CS1237ECConfig adds the per-sensor conductance factor K to the shared
// CS1237 pin wiring. CompensationCoefficient defaults to 0.02 per spec
// §9 Open Question 3.
type CS1237ECConfig struct {
	cs1237PinConfig
	FactorK                 float64 `json:"factor_k"`
	CompensationCoefficient float64 `json:"compensation_coefficient"`
}

type cs1237ECDriver struct{}

func (cs1237ECDriver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindEC, Unit: "uS/cm", CalibrationStyle: model.CalibrationFactorEC}
}

func (cs1237ECDriver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg CS1237ECConfig
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	if cfg.FactorK <= 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("cs1237_ec: factor_k must be positive"))
	}
	if cfg.CompensationCoefficient == 0 {
		cfg.CompensationCoefficient = 0.02
	}
	dev, err := openCS1237(bus, cfg.cs1237PinConfig, cs1237.PGA1)
	if err != nil {
		return nil, err
	}
	worker := startWorker(dev, cfg.RingSize)
	h := &cs1237ECHandle{worker: worker, refMV: cfg.referenceMV(), factorK: cfg.FactorK, coeff: cfg.CompensationCoefficient}
	return h, nil
}

type cs1237ECHandle struct {
	worker  *cs1237.Worker
	refMV   float64
	factorK float64
	coeff   float64

	mu       sync.Mutex
	provider TemperatureProvider
	haveProv atomic.Bool
}

// SetTemperatureProvider implements TemperatureAware.
func (h *cs1237ECHandle) SetTemperatureProvider(p TemperatureProvider) {
	h.mu.Lock()
	h.provider = p
	h.mu.Unlock()
	h.haveProv.Store(p != nil)
}

// Read returns conductivity in uS/cm, normalized to 25C when a water
// temperature is available per spec §4.D.5: ec = (raw_mV * K) *
// (1 + coeff*(T-25)). With no bound temperature sensor, compensation is
// bypassed and ec = raw_mV * K. The sample comes from the continuous
// worker's latest-sample slot, never a synchronous ReadSample.
func (h *cs1237ECHandle) Read() ([]sensor.Reading, error) {
	s, ok := h.worker.Latest()
	if !ok {
		return nil, herr.Wrap("transient", fmt.Errorf("cs1237_ec: no sample available yet"))
	}
	mv := rawToMillivolts(s.Raw, h.refMV, cs1237.PGA1)
	ec := mv * h.factorK

	if h.haveProv.Load() {
		h.mu.Lock()
		provider := h.provider
		h.mu.Unlock()
		if celsius, ok := provider(); ok {
			factor := 1 + h.coeff*(celsius-25)
			ec *= factor
		}
	}

	return []sensor.Reading{{Kind: model.KindEC, Raw: ec, Unit: "uS/cm"}}, nil
}

func (h *cs1237ECHandle) Close() error {
	h.worker.Stop()
	return nil
}
