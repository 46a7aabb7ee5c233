package drivers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

func init() {
	sensor.Register("ds18b20", func() sensor.Driver { return &ds18b20Driver{} })
}

// DS18B20Config names the 1-Wire slave id (e.g. "28-0000071f2a34").
type DS18B20Config struct {
	DeviceID string `json:"device_id"`
}

type ds18b20Driver struct{}

func (ds18b20Driver) Describe() sensor.Describe {
	return sensor.Describe{MeasurementKind: model.KindTemperature, Unit: "C", CalibrationStyle: model.CalibrationNone}
}

func (ds18b20Driver) Open(configData []byte, bus hal.Bus) (sensor.Handle, error) {
	var cfg DS18B20Config
	if err := decodeConfig(configData, &cfg); err != nil {
		return nil, err
	}
	if cfg.DeviceID == "" {
		return nil, herr.Wrap("configuration", fmt.Errorf("ds18b20: device_id is required"))
	}
	ids, err := bus.OneWireList()
	if err != nil {
		return nil, herr.Wrap("persistent", fmt.Errorf("ds18b20: list 1-wire devices: %w", err))
	}
	found := false
	for _, id := range ids {
		if id == cfg.DeviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, herr.Wrap("persistent", fmt.Errorf("ds18b20: device %q not present on the 1-wire bus", cfg.DeviceID))
	}
	return &ds18b20Handle{bus: bus, id: cfg.DeviceID}, nil
}

type ds18b20Handle struct {
	bus hal.Bus
	id  string
}

func (h *ds18b20Handle) Read() ([]sensor.Reading, error) {
	raw, err := h.bus.OneWireRead(h.id)
	if err != nil {
		return nil, herr.Wrap("transient", fmt.Errorf("ds18b20: read %q: %w", h.id, err))
	}
	if strings.Contains(string(raw), "NO") {
		return nil, herr.Wrap("transient", fmt.Errorf("ds18b20: crc check failed on %q", h.id))
	}
	milliC, err := parseW1Temperature(raw)
	if err != nil {
		return nil, herr.Wrap("transient", fmt.Errorf("ds18b20: parse %q: %w", h.id, err))
	}
	return []sensor.Reading{{Kind: model.KindTemperature, Raw: float64(milliC) / 1000.0, Unit: "C"}}, nil
}

func (h *ds18b20Handle) Close() error { return nil }

// parseW1Temperature extracts the t=<milli-celsius> field from a w1_slave
// sysfs payload, e.g. "...crc=68 YES\n...t=22250\n".
func parseW1Temperature(payload []byte) (int, error) {
	text := string(payload)
	idx := strings.LastIndex(text, "t=")
	if idx == -1 {
		return 0, fmt.Errorf("no t= field in payload")
	}
	field := text[idx+2:]
	field = strings.TrimSpace(field)
	if nl := strings.IndexByte(field, '\n'); nl != -1 {
		field = field[:nl]
	}
	return strconv.Atoi(field)
}
