package drivers

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/greenhaven/hydro-controller/internal/cs1237"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
)

// defaultRingSize is used when a driver's config leaves ring_size unset.
const defaultRingSize = 8

// cs1237PinConfig is the GPIO wiring shared by every CS1237-backed driver.
type cs1237PinConfig struct {
	SCKPin  int `json:"sck_pin"`
	DoutPin int `json:"dout_pin"`
	DinPin  int `json:"din_pin"`
	// ReferenceMV is the ADC's reference voltage in millivolts; defaults to
	// 3300 (3.3V) when zero.
	ReferenceMV float64 `json:"reference_mv"`
	// RingSize sets the continuous worker's sample ring buffer length;
	// defaults to defaultRingSize when zero.
	RingSize int `json:"ring_size"`
}

func (c cs1237PinConfig) referenceMV() float64 {
	if c.ReferenceMV == 0 {
		return 3300
	}
	return c.ReferenceMV
}

func openCS1237(bus hal.Bus, pins cs1237PinConfig, pga cs1237.PGA) (*cs1237.Device, error) {
	if pins.SCKPin == 0 && pins.DoutPin == 0 && pins.DinPin == 0 {
		return nil, herr.Wrap("configuration", fmt.Errorf("cs1237: sck_pin/dout_pin/din_pin must be set"))
	}
	dev, err := cs1237.NewDevice(bus, pins.SCKPin, pins.DoutPin, pins.DinPin, cs1237.Config{
		PGA:     pga,
		Speed:   cs1237.Speed10,
		Channel: cs1237.ChannelAnalog,
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// startWorker launches a CS1237 continuous-sampling worker on its own OS
// thread, so the bit-bang busy-wait in Device.ReadSample never runs on the
// scheduler's cooperative goroutine (spec §5's single-producer/consumer
// latest-sample slot). Drivers' Read methods consume Worker.Latest instead
// of calling ReadSample directly.
func startWorker(dev *cs1237.Device, ringSize int) *cs1237.Worker {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	w := cs1237.NewWorker(dev, ringSize, log.Logger)
	w.Start()
	return w
}

// rawToMillivolts converts a signed 24-bit ADC count to millivolts given
// the reference voltage and PGA gain, matching spec §8 scenario 4
// (raw=-8388608, PGA=1, reference=3300mV -> -3300mV).
func rawToMillivolts(raw int32, referenceMV float64, pga cs1237.PGA) float64 {
	return float64(raw) / float64(1<<23) * (referenceMV / float64(pga))
}

// TemperatureProvider supplies the most recent water temperature reading
// for EC compensation. ok is false when no temperature sensor is bound, in
// which case compensation is bypassed per spec §4.D.5.
type TemperatureProvider func() (celsius float64, ok bool)

// TemperatureAware is implemented by driver handles that can consume a
// TemperatureProvider. The runtime wires this after Open for any sensor
// whose config names a bound water-temperature sensor.
type TemperatureAware interface {
	SetTemperatureProvider(TemperatureProvider)
}
