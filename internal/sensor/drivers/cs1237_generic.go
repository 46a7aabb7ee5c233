package drivers

import (
	"fmt"

	"github.com/greenhaven/hydro-controller/internal/cs1237"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

func init() {
	sensor.Register("cs1237_generic", func() sensor.Driver { return &cs1237GenericDriver{} })
}

// CS1237GenericConfig adds the user-provided display unit and PGA
// selection to the shared pin wiring. Speed is decoded but not applied;
// the device always samples at 10 Hz.
type CS1237GenericConfig struct {
	cs1237PinConfig
	Unit  string `json:"unit"`
	PGA   int    `json:"pga"`
	Speed int    `json:"speed"`
}

type cs1237GenericDriver struct{}

func (cs1237GenericDriver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindGeneric, Unit: "counts", CalibrationStyle: model.CalibrationPiecewise}
}

func (cs1237GenericDriver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg CS1237GenericConfig
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	pga := cs1237.PGA1
	switch cfg.PGA {
	case 0, 1:
		pga = cs1237.PGA1
	case 2:
		pga = cs1237.PGA2
	case 64:
		pga = cs1237.PGA64
	case 128:
		pga = cs1237.PGA128
	default:
		return nil, herr.Wrap("configuration", fmt.Errorf("cs1237_generic: invalid pga %d", cfg.PGA))
	}
	dev, err := openCS1237(bus, cfg.cs1237PinConfig, pga)
	if err != nil {
		return nil, err
	}
	worker := startWorker(dev, cfg.RingSize)
	unit := cfg.Unit
	if unit == "" {
		unit = "counts"
	}
	return &cs1237GenericHandle{worker: worker, unit: unit}, nil
}

type cs1237GenericHandle struct {
	worker *cs1237.Worker
	unit   string
}

// Read exposes raw ADC counts unchanged; the piecewise calibration set
// maps counts to the user's declared unit per spec §4.D.6. The sample
// comes from the continuous worker's latest-sample slot, never a
// synchronous ReadSample.
func (h *cs1237GenericHandle) Read() ([]sensor.Reading, error) {
	s, ok := h.worker.Latest()
	if !ok {
		return nil, herr.Wrap("transient", fmt.Errorf("cs1237_generic: no sample available yet"))
	}
	return []sensor.Reading{{Kind: model.KindGeneric, Raw: float64(s.Raw), Unit: h.unit}}, nil
}

func (h *cs1237GenericHandle) Close() error {
	h.worker.Stop()
	return nil
}
