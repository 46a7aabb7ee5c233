// Package cs1237 implements the bit-banged three-wire protocol for the
// CS1237 24-bit Σ-Δ ADC (component E): configuration register packing, the
// read/write-register sequences, sign extension, and a continuous sampling
// worker pinned to its own OS thread.
package cs1237

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
)

// PGA is the ADC front-end gain.
type PGA int

const (
	PGA1   PGA = 1
	PGA2   PGA = 2
	PGA64  PGA = 64
	PGA128 PGA = 128
)

// Speed is the configured output data rate, in Hz.
type Speed int

const (
	Speed10   Speed = 10
	Speed40   Speed = 40
	Speed640  Speed = 640
	Speed1280 Speed = 1280
)

// Channel selects the ADC's input multiplexer.
type Channel int

const (
	ChannelAnalog      Channel = 0
	ChannelTemperature Channel = 1
)

// Config is the CS1237 configuration register. Pack lays it out as
// [5]=refo [4]=channel [3:2]=pga [1:0]=speed; bits 7:6 are zero.
type Config struct {
	PGA      PGA
	Speed    Speed
	Channel  Channel
	RefOff   bool
}

func speedCode(s Speed) byte {
	switch s {
	case Speed10:
		return 0
	case Speed40:
		return 1
	case Speed640:
		return 2
	case Speed1280:
		return 3
	default:
		return 1
	}
}

func pgaCode(p PGA) byte {
	switch p {
	case PGA1:
		return 0
	case PGA2:
		return 1
	case PGA64:
		return 2
	case PGA128:
		return 3
	default:
		return 0
	}
}

// Pack encodes the configuration register byte.
func (c Config) Pack() byte {
	speed := speedCode(c.Speed) & 3
	pga := pgaCode(c.PGA) & 3
	channel := byte(c.Channel) & 1
	refo := byte(0)
	if c.RefOff {
		refo = 1
	}
	return speed | (pga << 2) | (channel << 4) | (refo << 5)
}

// SamplePeriod is the nominal inter-sample interval implied by Speed.
func (c Config) SamplePeriod() time.Duration {
	return time.Second / time.Duration(c.Speed)
}

const (
	opWrite = 0x65
	opRead  = 0x56

	halfCellDelay = 500 * time.Nanosecond
	doutTimeout   = 500 * time.Millisecond
)

// ErrDoutTimeout is returned when DOUT fails to go LOW (data-ready) within
// the 500ms budget.
type ErrDoutTimeout struct{}

func (ErrDoutTimeout) Error() string { return "cs1237: DOUT ready timeout" }

// WireCheckFailed is a non-fatal warning condition: DOUT did not return
// HIGH within five bit cells after a read.
type WireCheckFailed struct{}

func (WireCheckFailed) Error() string { return "cs1237: wire-check failed, DOUT did not return high" }

// Device drives one CS1237 instance over three GPIO lines.
type Device struct {
	bus hal.Bus
	sck int
	dout int
	din  int

	cfg Config
}

func NewDevice(bus hal.Bus, sck, dout, din int, cfg Config) (*Device, error) {
	d := &Device{bus: bus, sck: sck, dout: dout, din: din, cfg: cfg}
	if err := bus.Configure(sck, hal.Output, hal.PullNone); err != nil {
		return nil, herr.Wrap("persistent", fmt.Errorf("cs1237: configure SCK: %w", err))
	}
	if err := bus.Configure(dout, hal.Input, hal.PullUp); err != nil {
		return nil, herr.Wrap("persistent", fmt.Errorf("cs1237: configure DOUT: %w", err))
	}
	if err := bus.Configure(din, hal.Output, hal.PullNone); err != nil {
		return nil, herr.Wrap("persistent", fmt.Errorf("cs1237: configure DIN: %w", err))
	}
	return d, nil
}

func (d *Device) clockHigh() {
	_ = d.bus.SetOutput(d.sck, true)
	d.bus.NDelay(halfCellDelay)
}

func (d *Device) clockLow() {
	_ = d.bus.SetOutput(d.sck, false)
	d.bus.NDelay(halfCellDelay)
}

// waitReady blocks until DOUT goes LOW, signalling a fresh sample is ready,
// or returns ErrDoutTimeout after doutTimeout has elapsed.
func (d *Device) waitReady() error {
	deadline := time.Now().Add(doutTimeout)
	for {
		level, err := d.bus.ReadInput(d.dout)
		if err != nil {
			return herr.Wrap("transient", fmt.Errorf("cs1237: read DOUT: %w", err))
		}
		if !level {
			return nil
		}
		if time.Now().After(deadline) {
			return herr.Wrap("transient", ErrDoutTimeout{})
		}
		d.bus.NDelay(1 * time.Microsecond)
	}
}

// readBit clocks one bit in from DOUT: SCK high, sample, SCK low.
func (d *Device) readBit() (bool, error) {
	d.clockHigh()
	level, err := d.bus.ReadInput(d.dout)
	d.clockLow()
	return level, err
}

// writeBit clocks one bit out on DIN: drive DIN, SCK high, SCK low.
func (d *Device) writeBit(level bool) {
	_ = d.bus.SetOutput(d.din, level)
	d.clockHigh()
	d.clockLow()
}

// ReadSample performs the read-sample sequence from spec §4.E: wait for
// ready, clock 24 bits MSB-first, clock 3 termination bits, sign-extend.
func (d *Device) ReadSample() (int32, error) {
	if err := d.waitReady(); err != nil {
		return 0, err
	}

	var raw uint32
	for i := 0; i < 24; i++ {
		bit, err := d.readBit()
		if err != nil {
			return 0, herr.Wrap("transient", fmt.Errorf("cs1237: clock data bit %d: %w", i, err))
		}
		raw <<= 1
		if bit {
			raw |= 1
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := d.readBit(); err != nil {
			return 0, herr.Wrap("transient", fmt.Errorf("cs1237: clock termination bit %d: %w", i, err))
		}
	}

	if ok, err := d.wireCheck(); err != nil {
		return 0, err
	} else if !ok {
		return signExtend24(raw), WireCheckFailed{}
	}

	return signExtend24(raw), nil
}

// wireCheck validates DOUT returns HIGH within five bit cells of the read
// completing. A false return is a non-fatal wire-check warning, never an
// error the caller must abort on.
func (d *Device) wireCheck() (bool, error) {
	for i := 0; i < 5; i++ {
		level, err := d.bus.ReadInput(d.dout)
		if err != nil {
			return false, herr.Wrap("transient", fmt.Errorf("cs1237: wire-check read: %w", err))
		}
		if level {
			return true, nil
		}
		d.clockHigh()
		d.clockLow()
	}
	return false, nil
}

func signExtend24(raw uint32) int32 {
	raw &= 0xFFFFFF
	if raw&0x800000 != 0 {
		return int32(raw) - (1 << 24)
	}
	return int32(raw)
}

// WriteRegister performs the register-write sequence from spec §4.E.
func (d *Device) WriteRegister(payload byte) error {
	if err := d.waitReady(); err != nil {
		return err
	}
	for i := 0; i < 24; i++ {
		if _, err := d.readBit(); err != nil {
			return herr.Wrap("transient", fmt.Errorf("cs1237: dummy clock %d: %w", i, err))
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := d.readBit(); err != nil {
			return herr.Wrap("transient", fmt.Errorf("cs1237: status clock %d: %w", i, err))
		}
	}
	d.writeBit(true) // pulls DOUT/DIN high
	for i := 0; i < 2; i++ {
		d.clockHigh()
		d.clockLow()
	}
	if err := d.bus.Configure(d.dout, hal.Output, hal.PullNone); err != nil {
		return herr.Wrap("transient", fmt.Errorf("cs1237: switch DOUT to output: %w", err))
	}

	for i := 6; i >= 0; i-- {
		bit := (opWrite >> uint(i)) & 1
		d.writeBit(bit == 0) // hardware inverts DIN
	}
	d.clockHigh()
	d.clockLow()
	for i := 7; i >= 0; i-- {
		bit := (payload >> uint(i)) & 1
		d.writeBit(bit == 0)
	}
	_ = d.bus.SetOutput(d.din, false)

	if err := d.bus.Configure(d.dout, hal.Input, hal.PullUp); err != nil {
		return herr.Wrap("transient", fmt.Errorf("cs1237: restore DOUT to input: %w", err))
	}
	return nil
}

// ReadRegister performs the register-read sequence from spec §4.E.
func (d *Device) ReadRegister() (byte, error) {
	if err := d.waitReady(); err != nil {
		return 0, err
	}
	for i := 0; i < 24; i++ {
		if _, err := d.readBit(); err != nil {
			return 0, herr.Wrap("transient", fmt.Errorf("cs1237: dummy clock %d: %w", i, err))
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := d.readBit(); err != nil {
			return 0, herr.Wrap("transient", fmt.Errorf("cs1237: status clock %d: %w", i, err))
		}
	}
	d.writeBit(true)
	for i := 0; i < 2; i++ {
		d.clockHigh()
		d.clockLow()
	}
	for i := 6; i >= 0; i-- {
		bit := (opRead >> uint(i)) & 1
		d.writeBit(bit == 0)
	}
	d.clockHigh()
	d.clockLow()

	var payload byte
	for i := 0; i < 8; i++ {
		bit, err := d.readBit()
		if err != nil {
			return 0, herr.Wrap("transient", fmt.Errorf("cs1237: payload bit %d: %w", i, err))
		}
		payload <<= 1
		if bit {
			payload |= 1
		}
	}
	return payload, nil
}

// Sample is one entry in the continuous worker's ring buffer.
type Sample struct {
	Raw       int32
	Timestamp time.Time
}

// Worker runs one CS1237's continuous sampling loop on a dedicated,
// OS-thread-locked goroutine per spec §4.E/§5.
type Worker struct {
	dev *Device
	log zerolog.Logger

	ring       []Sample
	ringSize   int
	head       int64 // monotonically increasing write index
	mu         sync.Mutex

	sum   int64
	count int64

	latest atomic.Value // stores Sample

	stop chan struct{}
	done chan struct{}
}

// NewWorker builds a worker with a ring buffer of ringSize samples.
func NewWorker(dev *Device, ringSize int, log zerolog.Logger) *Worker {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Worker{
		dev:      dev,
		log:      log.With().Str("component", "cs1237_worker").Logger(),
		ring:     make([]Sample, ringSize),
		ringSize: ringSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop on its own goroutine and returns
// without waiting for it; the goroutine locks its OS thread itself.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	period := w.dev.cfg.SamplePeriod() * 95 / 100
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			raw, err := w.dev.ReadSample()
			if err != nil {
				if _, ok := err.(WireCheckFailed); ok {
					w.log.Warn().Msg("wire-check failed after read")
				} else {
					w.log.Warn().Err(err).Msg("sample read failed")
					continue
				}
			}
			w.record(raw)
		}
	}
}

func (w *Worker) record(raw int32) {
	s := Sample{Raw: raw, Timestamp: time.Now()}
	w.latest.Store(s)

	w.mu.Lock()
	idx := int(w.head % int64(w.ringSize))
	old := w.ring[idx]
	w.ring[idx] = s
	w.head++
	filled := w.head >= int64(w.ringSize)
	if filled {
		w.sum -= int64(old.Raw)
	}
	w.sum += int64(raw)
	if w.count < int64(w.ringSize) {
		w.count++
	}
	w.mu.Unlock()
}

// Latest returns the most recent sample. ok is false if none has been
// taken yet.
func (w *Worker) Latest() (Sample, bool) {
	v := w.latest.Load()
	if v == nil {
		return Sample{}, false
	}
	return v.(Sample), true
}

// Mean returns the running mean over the ring buffer's current contents.
func (w *Worker) Mean() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	return float64(w.sum) / float64(w.count)
}

// Stop signals the sampling loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
