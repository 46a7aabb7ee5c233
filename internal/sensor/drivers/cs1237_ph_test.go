package drivers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/sensor"
)

// cs1237ScriptCycleLen is the number of ReadInput calls one full ReadSample
// makes against DOUT: the ready check, 24 data bits, 3 termination bits,
// and the wire-check's first (and here only) read.
const cs1237ScriptCycleLen = 1 + 24 + 3 + 1

// scriptedDoutBus replays a fixed DOUT bit sequence so CS1237-backed driver
// reads can be tested without real hardware timing. The sequence repeats
// every cs1237ScriptCycleLen calls so the continuous worker's repeated
// ReadSample polling sees the same sample on every tick.
type scriptedDoutBus struct {
	*hal.Stub
	doutPin int
	bits    []bool
	i       int
}

func (b *scriptedDoutBus) ReadInput(pin int) (bool, error) {
	if pin != b.doutPin {
		return b.Stub.ReadInput(pin)
	}
	pos := b.i % cs1237ScriptCycleLen
	b.i++
	if pos == 0 {
		return false, nil // DOUT low: sample ready
	}
	idx := pos - 1
	if idx >= len(b.bits) {
		return true, nil
	}
	return b.bits[idx], nil
}

func bitsFor(raw uint32) []bool {
	out := make([]bool, 24)
	for i := 0; i < 24; i++ {
		out[i] = (raw>>(23-uint(i)))&1 == 1
	}
	return out
}

// waitForSample polls h.Read until the backing worker has produced its
// first sample, which happens on its own schedule shortly after Open.
func waitForSample(t *testing.T, h sensor.Handle) []sensor.Reading {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		readings, err := h.Read()
		if err == nil {
			return readings
		}
		if time.Now().After(deadline) {
			require.NoError(t, err, "worker never produced a sample")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCS1237PH_ReadConvertsToVolts(t *testing.T) {
	d, err := sensor.Lookup("cs1237_ph")
	require.NoError(t, err)

	bus := &scriptedDoutBus{Stub: hal.NewStub(), doutPin: 2, bits: bitsFor(0x000000)}
	h, err := d.Open([]byte(`{"sck_pin":1,"dout_pin":2,"din_pin":3}`), bus)
	require.NoError(t, err)
	defer h.Close()

	readings := waitForSample(t, h)
	require.Len(t, readings, 1)
	assert.InDelta(t, 0.0, readings[0].Raw, 1e-9)
	assert.Equal(t, "pH", readings[0].Unit)
}

func TestCS1237PH_Open_RequiresPins(t *testing.T) {
	d, err := sensor.Lookup("cs1237_ph")
	require.NoError(t, err)

	_, err = d.Open([]byte(`{}`), hal.NewStub())
	assert.Error(t, err)
}
