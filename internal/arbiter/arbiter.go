// Package arbiter serializes every write to a managed output pin
// (component B). It owns the hal.Bus for the pins it manages: no driver or
// controller ever calls hal.Bus.SetOutput directly on a pin the arbiter
// manages, so conflicting requests from two controllers can never race on
// the wire.
package arbiter

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

// Limits configures the safety interlocks applied to one pin. The zero
// value of MaxContinuousHigh (no cap) must be set explicitly; callers get
// the package defaults from DefaultLimits.
type Limits struct {
	MaxContinuousHigh    time.Duration
	MinIntervalBetweenHi time.Duration
}

// DefaultLimits matches spec §4.B's stated defaults: ten minutes continuous
// HIGH, no minimum spacing between HIGH transitions.
func DefaultLimits() Limits {
	return Limits{MaxContinuousHigh: 10 * time.Minute, MinIntervalBetweenHi: 0}
}

type pinEntry struct {
	mu sync.Mutex

	limits Limits

	level       model.PinLevel
	wentHighAt  time.Time // zero when not currently high
	lastHighEnd time.Time // end of the previous HIGH period, for MinIntervalBetweenHi

	pulseCancel chan struct{} // closed to cancel the in-flight pulse goroutine, nil if none
	pulseEnd    time.Time

	highCancel chan struct{} // closed to cancel the continuous-HIGH watchdog, nil if none
}

// Arbiter owns every managed pin's mutual exclusion and safety interlocks.
type Arbiter struct {
	bus hal.Bus
	log zerolog.Logger

	mu      sync.RWMutex // guards pins map membership and panicOff, not per-pin state
	pins    map[int]*pinEntry
	panicOff bool
}

func New(bus hal.Bus, log zerolog.Logger) *Arbiter {
	return &Arbiter{bus: bus, log: log.With().Str("component", "arbiter").Logger(), pins: make(map[int]*pinEntry)}
}

// Manage registers pin under the arbiter with the given safety limits and
// configures it as a digital output. Call once per pin at startup.
func (a *Arbiter) Manage(pin int, limits Limits) error {
	if err := a.bus.Configure(pin, hal.Output, hal.PullNone); err != nil {
		return herr.Wrap("persistent", fmt.Errorf("arbiter: configure pin %d: %w", pin, err))
	}
	a.mu.Lock()
	a.pins[pin] = &pinEntry{limits: limits, level: model.PinLow}
	a.mu.Unlock()
	return nil
}

func (a *Arbiter) entry(pin int) (*pinEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.pins[pin]
	if !ok {
		return nil, fmt.Errorf("arbiter: pin %d is not managed", pin)
	}
	return e, nil
}

// Set drives pin to on, idempotently: setting a pin to its current level is
// a no-op that still reports the previous state. Returns a *herr.Safety
// error, without touching the wire, if the transition would violate a
// configured interlock.
func (a *Arbiter) Set(pin int, on bool) (previous bool, err error) {
	if a.isPanicked() {
		return false, herr.Wrap("safety", fmt.Errorf("arbiter: panic-off engaged, refusing pin %d", pin))
	}
	e, err := a.entry(pin)
	if err != nil {
		return false, herr.Wrap("configuration", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previous = e.level != model.PinLow
	wantLevel := model.PinLow
	if on {
		wantLevel = model.PinHigh
	}
	if e.level == wantLevel && e.level != model.PinPulsing {
		return previous, nil
	}

	now := time.Now()
	if on {
		if err := e.checkInterlocksLocked(now); err != nil {
			a.log.Warn().Int("pin", pin).Err(err).Msg("refusing set: interlock violation")
			return previous, herr.Wrap("safety", err)
		}
	}

	a.cancelPulseLocked(e)
	a.cancelHighWatchLocked(e)

	if err := a.bus.SetOutput(pin, on); err != nil {
		return previous, herr.Wrap("transient", fmt.Errorf("arbiter: set pin %d: %w", pin, err))
	}

	if on {
		e.level = model.PinHigh
		e.wentHighAt = now
		a.armHighWatchdogLocked(pin, e)
	} else {
		if !e.wentHighAt.IsZero() {
			e.lastHighEnd = now
		}
		e.level = model.PinLow
		e.wentHighAt = time.Time{}
	}
	return previous, nil
}

// checkInterlocksLocked must be called with e.mu held and only when
// transitioning to HIGH.
func (e *pinEntry) checkInterlocksLocked(now time.Time) error {
	if e.limits.MinIntervalBetweenHi > 0 && !e.lastHighEnd.IsZero() {
		if since := now.Sub(e.lastHighEnd); since < e.limits.MinIntervalBetweenHi {
			return fmt.Errorf("minimum interval between HIGH transitions not elapsed (%s remaining)", e.limits.MinIntervalBetweenHi-since)
		}
	}
	if e.limits.MaxContinuousHigh > 0 && !e.wentHighAt.IsZero() {
		if elapsed := now.Sub(e.wentHighAt); elapsed >= e.limits.MaxContinuousHigh {
			return fmt.Errorf("maximum continuous HIGH duration already elapsed (%s of %s)", elapsed, e.limits.MaxContinuousHigh)
		}
	}
	return nil
}

// armHighWatchdogLocked must be called with e.mu held, immediately after a
// transition to continuous HIGH. It starts a timer that forces the pin LOW
// once limits.MaxContinuousHigh elapses, since nothing else revisits a pin
// left HIGH by Set.
func (a *Arbiter) armHighWatchdogLocked(pin int, e *pinEntry) {
	if e.limits.MaxContinuousHigh <= 0 {
		return
	}
	cancel := make(chan struct{})
	e.highCancel = cancel
	go a.runHighWatchdog(pin, e, cancel, e.limits.MaxContinuousHigh)
}

func (a *Arbiter) runHighWatchdog(pin int, e *pinEntry, cancel chan struct{}, maxHigh time.Duration) {
	timer := time.NewTimer(maxHigh)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-cancel:
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.highCancel != cancel {
		// superseded by a later transition; that transition owns the wire now
		return
	}
	if err := a.bus.SetOutput(pin, false); err != nil {
		a.log.Error().Int("pin", pin).Err(err).Msg("max continuous high watchdog: failed to force pin low")
	}
	e.level = model.PinLow
	e.lastHighEnd = time.Now()
	e.wentHighAt = time.Time{}
	e.highCancel = nil
	a.log.Error().Int("pin", pin).Dur("max_continuous_high", maxHigh).Msg("max continuous high exceeded, forcing pin low")
}

// cancelHighWatchLocked must be called with e.mu held.
func (a *Arbiter) cancelHighWatchLocked(e *pinEntry) {
	if e.highCancel != nil {
		close(e.highCancel)
		e.highCancel = nil
	}
}

// PulseHandle lets a caller cancel an in-flight pulse early.
type PulseHandle struct {
	cancel chan struct{}
	once   sync.Once
}

func (h *PulseHandle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Pulse drives pin HIGH for duration then returns it LOW, honoring the same
// interlocks as Set, and refuses with a *herr.Safety error, without
// touching the wire, if duration exceeds the pin's MaxContinuousHigh limit.
// Retriggering a pin that is already pulsing cancels the in-flight pulse
// and restarts the timer from duration.
func (a *Arbiter) Pulse(pin int, duration time.Duration) (*PulseHandle, error) {
	if a.isPanicked() {
		return nil, herr.Wrap("safety", fmt.Errorf("arbiter: panic-off engaged, refusing pin %d", pin))
	}
	e, err := a.entry(pin)
	if err != nil {
		return nil, herr.Wrap("configuration", err)
	}

	e.mu.Lock()
	now := time.Now()
	if err := e.checkInterlocksLocked(now); err != nil {
		e.mu.Unlock()
		a.log.Warn().Int("pin", pin).Err(err).Msg("refusing pulse: interlock violation")
		return nil, herr.Wrap("safety", err)
	}
	if e.limits.MaxContinuousHigh > 0 && duration > e.limits.MaxContinuousHigh {
		e.mu.Unlock()
		err := fmt.Errorf("pulse duration %s exceeds maximum continuous HIGH duration %s", duration, e.limits.MaxContinuousHigh)
		a.log.Warn().Int("pin", pin).Err(err).Msg("refusing pulse: interlock violation")
		return nil, herr.Wrap("safety", err)
	}

	a.cancelPulseLocked(e)
	a.cancelHighWatchLocked(e)

	if err := a.bus.SetOutput(pin, true); err != nil {
		e.mu.Unlock()
		return nil, herr.Wrap("transient", fmt.Errorf("arbiter: pulse pin %d: %w", pin, err))
	}
	e.level = model.PinPulsing
	e.wentHighAt = now
	e.pulseEnd = now.Add(duration)
	cancel := make(chan struct{})
	e.pulseCancel = cancel
	e.mu.Unlock()

	go a.runPulse(pin, e, cancel, duration)

	return &PulseHandle{cancel: cancel}, nil
}

func (a *Arbiter) runPulse(pin int, e *pinEntry, cancel chan struct{}, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-cancel:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pulseCancel != cancel {
		// superseded by a later pulse or Set call; that call owns the wire now
		return
	}
	_ = a.bus.SetOutput(pin, false)
	e.level = model.PinLow
	e.lastHighEnd = time.Now()
	e.wentHighAt = time.Time{}
	e.pulseCancel = nil
	a.cancelHighWatchLocked(e)
}

// cancelPulseLocked must be called with e.mu held.
func (a *Arbiter) cancelPulseLocked(e *pinEntry) {
	if e.pulseCancel != nil {
		close(e.pulseCancel)
		e.pulseCancel = nil
	}
}

// List returns a snapshot of every managed pin's current state.
func (a *Arbiter) List() map[int]model.PinState {
	a.mu.RLock()
	pins := make([]int, 0, len(a.pins))
	entries := make([]*pinEntry, 0, len(a.pins))
	for pin, e := range a.pins {
		pins = append(pins, pin)
		entries = append(entries, e)
	}
	a.mu.RUnlock()

	out := make(map[int]model.PinState, len(pins))
	for i, pin := range pins {
		e := entries[i]
		e.mu.Lock()
		out[pin] = model.PinState{Pin: pin, Level: e.level, EndTime: e.pulseEnd}
		e.mu.Unlock()
	}
	return out
}

func (a *Arbiter) isPanicked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.panicOff
}

// PanicOff drives every managed pin LOW immediately, cancels any in-flight
// pulses, and refuses further writes until Clear is called. It is
// best-effort across pins: a failure on one pin does not stop the sweep
// across the rest.
func (a *Arbiter) PanicOff() error {
	a.mu.Lock()
	a.panicOff = true
	pins := make([]int, 0, len(a.pins))
	entries := make([]*pinEntry, 0, len(a.pins))
	for pin, e := range a.pins {
		pins = append(pins, pin)
		entries = append(entries, e)
	}
	a.mu.Unlock()

	var firstErr error
	for i, pin := range pins {
		e := entries[i]
		e.mu.Lock()
		a.cancelPulseLocked(e)
		a.cancelHighWatchLocked(e)
		if err := a.bus.SetOutput(pin, false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arbiter: panic-off pin %d: %w", pin, err)
		}
		e.level = model.PinLow
		e.wentHighAt = time.Time{}
		e.mu.Unlock()
	}
	a.log.Error().Err(firstErr).Msg("panic-off engaged")
	if firstErr != nil {
		return herr.Wrap("fatal", firstErr)
	}
	return nil
}

// ValidateStartupPins reads back the physical level of every managed pin
// and fails if any is not LOW, the universal safe state for this
// installation's actuators. Call once, after Manage and before the
// scheduler starts, so a process restarted while a relay was stuck HIGH
// refuses to take control rather than assuming the in-memory LOW default
// Manage seeded actually matches the wire.
func (a *Arbiter) ValidateStartupPins() error {
	a.mu.RLock()
	pins := make([]int, 0, len(a.pins))
	for pin := range a.pins {
		pins = append(pins, pin)
	}
	a.mu.RUnlock()

	for _, pin := range pins {
		level, err := a.bus.ReadInput(pin)
		if err != nil {
			return herr.Wrap("configuration", fmt.Errorf("arbiter: read startup level for pin %d: %w", pin, err))
		}
		if level {
			return herr.Wrap("configuration", fmt.Errorf("arbiter: pin %d is HIGH at startup, expected LOW", pin))
		}
	}
	return nil
}

// Clear releases panic-off, allowing Set/Pulse to operate again. It does
// not itself change any pin's level.
func (a *Arbiter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panicOff = false
	a.log.Info().Msg("panic-off cleared")
}
