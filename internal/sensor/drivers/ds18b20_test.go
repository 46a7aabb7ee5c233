package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

func TestDS18B20_OpenRejectsMissingDevice(t *testing.T) {
	d, err := sensor.Lookup("ds18b20")
	require.NoError(t, err)

	stub := hal.NewStub()
	_, err = d.Open([]byte(`{"device_id":"28-not-present"}`), stub)
	assert.Error(t, err)
}

func TestDS18B20_ReadParsesTemperature(t *testing.T) {
	d, err := sensor.Lookup("ds18b20")
	require.NoError(t, err)

	stub := hal.NewStub()
	stub.SeedOneWire("28-0000071f2a34", []byte("64 01 4b 46 7f ff 0e 10 68 : crc=68 YES\n64 01 4b 46 7f ff 0e 10 68 t=22250\n"))

	h, err := d.Open([]byte(`{"device_id":"28-0000071f2a34"}`), stub)
	require.NoError(t, err)

	readings, err := h.Read()
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.InDelta(t, 22.25, readings[0].Raw, 1e-9)
	assert.Equal(t, "C", readings[0].Unit)
}

func TestDS18B20_ReadFailsOnBadCRC(t *testing.T) {
	d, err := sensor.Lookup("ds18b20")
	require.NoError(t, err)

	stub := hal.NewStub()
	stub.SeedOneWire("28-bad", []byte("64 01 4b 46 7f ff 0e 10 68 : crc=68 NO\n64 01 4b 46 7f ff 0e 10 68 t=22250\n"))

	h, err := d.Open([]byte(`{"device_id":"28-bad"}`), stub)
	require.NoError(t, err)

	_, err = h.Read()
	assert.Error(t, err)
}
