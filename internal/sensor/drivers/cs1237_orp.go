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
	sensor.Register("cs1237_orp", func() sensor.Driver { return &cs1237ORPDriver{} })
}

type cs1237ORPDriver struct{}

func (cs1237ORPDriver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindORP, Unit: "mV", CalibrationStyle: model.CalibrationOffsetORP}
}

func (cs1237ORPDriver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg cs1237PinConfig
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	dev, err := openCS1237(bus, cfg, cs1237.PGA1)
	if err != nil {
		return nil, err
	}
	worker := startWorker(dev, cfg.RingSize)
	return &cs1237ORPHandle{worker: worker, refMV: cfg.referenceMV()}, nil
}

type cs1237ORPHandle struct {
	worker *cs1237.Worker
	refMV  float64
}

// Read returns raw_mV; the calibration set's single-point offset adds the
// configured offset per spec §4.D.4. The sample comes from the continuous
// worker's latest-sample slot, never a synchronous ReadSample.
func (h *cs1237ORPHandle) Read() ([]sensor.Reading, error) {
	s, ok := h.worker.Latest()
	if !ok {
		return nil, herr.Wrap("transient", fmt.Errorf("cs1237_orp: no sample available yet"))
	}
	mv := rawToMillivolts(s.Raw, h.refMV, cs1237.PGA1)
	return []sensor.Reading{{Kind: model.KindORP, Raw: mv, Unit: "mV"}}, nil
}

func (h *cs1237ORPHandle) Close() error {
	h.worker.Stop()
	return nil
}
