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
	sensor.Register("cs1237_ph", func() sensor.Driver { return &cs1237PHDriver{} })
}

type cs1237PHDriver struct{}

func (cs1237PHDriver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindPH, Unit: "pH", CalibrationStyle: model.CalibrationTwoPointPH}
}

func (cs1237PHDriver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg cs1237PinConfig
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	dev, err := openCS1237(bus, cfg, cs1237.PGA128)
	if err != nil {
		return nil, err
	}
	worker := startWorker(dev, cfg.RingSize)
	return &cs1237PHHandle{worker: worker, refMV: cfg.referenceMV()}, nil
}

type cs1237PHHandle struct {
	worker *cs1237.Worker
	refMV  float64
}

// Read returns the ADC voltage in volts; the two-point calibration set
// maps volts to pH per spec §4.D.3. The sample itself comes from the
// continuous worker's latest-sample slot, never a synchronous ReadSample.
func (h *cs1237PHHandle) Read() ([]sensor.Reading, error) {
	s, ok := h.worker.Latest()
	if !ok {
		return nil, herr.Wrap("transient", fmt.Errorf("cs1237_ph: no sample available yet"))
	}
	volts := rawToMillivolts(s.Raw, h.refMV, cs1237.PGA128) / 1000.0
	return []sensor.Reading{{Kind: model.KindPH, Raw: volts, Unit: "pH"}}, nil
}

func (h *cs1237PHHandle) Close() error {
	h.worker.Stop()
	return nil
}
