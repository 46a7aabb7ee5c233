package drivers

import (
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

func init() {
	sensor.Register("sht41", func() sensor.Driver { return &sht41Driver{} })
}

// SHT41Config names the I2C bus and address (default 0x44 for SHT41).
type SHT41Config struct {
	Bus     int  `json:"bus"`
	Address byte `json:"address"`
}

const sht41MeasureHighPrecision = 0xFD

type sht41Driver struct{}

func (sht41Driver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindTemperature, Unit: "C", CalibrationStyle: model.CalibrationNone}
}

func (sht41Driver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg SHT41Config
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	if cfg.Address == 0 {
		cfg.Address = 0x44
	}
	return &sht41Handle{bus: bus, i2cBus: cfg.Bus, addr: cfg.Address}, nil
}

type sht41Handle struct {
	bus    hal.Bus
	i2cBus int
	addr   byte
}

// Read performs the SHT41 "measure T & RH with high repeatability" cycle
// (spec §4.D.2: one driver, two measurements). The chip has no addressable
// registers; the command byte is written with an empty payload and the
// six-byte result (T MSB/LSB/CRC, RH MSB/LSB/CRC) is read back after the
// chip's conversion time.
func (h *sht41Handle) Read() ([]sensor.Reading, error) {
	if err := h.bus.I2CWrite(h.i2cBus, h.addr, sht41MeasureHighPrecision, nil); err != nil {
		return nil, herr.Wrap("transient", fmt.Errorf("sht41: measure command: %w", err))
	}
	h.bus.MSleep(10 * time.Millisecond) // chip's high-repeatability conversion time
	data, err := h.bus.I2CRead(h.i2cBus, h.addr, 0, 6)
	if err != nil {
		return nil, herr.Wrap("transient", fmt.Errorf("sht41: read result: %w", err))
	}
	if len(data) < 6 {
		return nil, herr.Wrap("transient", fmt.Errorf("sht41: short read: got %d bytes", len(data)))
	}

	rawT := uint16(data[0])<<8 | uint16(data[1])
	rawRH := uint16(data[3])<<8 | uint16(data[4])

	tempC := -45 + 175*(float64(rawT)/65535.0)
	rh := -6 + 125*(float64(rawRH)/65535.0)
	if rh < 0 {
		rh = 0
	}
	if rh > 100 {
		rh = 100
	}

	return []sensor.Reading{
		{Kind: model.KindTemperature, Raw: tempC, Unit: "C"},
		{Kind: model.KindHumidity, Raw: rh, Unit: "%RH"},
	}, nil
}

func (h *sht41Handle) Close() error { return nil }
