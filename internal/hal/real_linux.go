//go:build linux

package hal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	rpii2c "github.com/reef-pi/rpi/i2c"
)

// BCM283x GPIO peripheral register offsets, in units of uint32 words. This
// targets the classic GPPUD/GPPUDCLK pull configuration (BCM2835/6/7);
// BCM2711 (Pi 4) uses a different pull-control register layout and is not
// handled here.
const (
	regFSEL0   = 0x00 / 4
	regSET0    = 0x1C / 4
	regCLR0    = 0x28 / 4
	regLEV0    = 0x34 / 4
	regPUD     = 0x94 / 4
	regPUDCLK0 = 0x98 / 4

	gpioMemSize = 4096
)

// Real is the embedded-hardware Bus backend: direct register access for
// digital I/O via /dev/gpiomem (so bit-bang timing is not limited by a
// syscall per edge), reef-pi/rpi/i2c for bus transactions, and the 1-Wire
// sysfs tree for temperature slaves.
type Real struct {
	mu   sync.Mutex
	mem  []byte
	regs []uint32
	i2c  map[int]rpii2c.Bus
}

func NewReal() (*Real, error) {
	f, err := os.OpenFile("/dev/gpiomem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("hal: open /dev/gpiomem: %w", err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, gpioMemSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hal: mmap /dev/gpiomem: %w", err)
	}

	regs := unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), gpioMemSize/4)
	return &Real{mem: mem, regs: regs, i2c: make(map[int]rpii2c.Bus)}, nil
}

func (r *Real) Configure(pin int, dir Direction, pull Pull) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	selReg := regFSEL0 + pin/10
	shift := uint((pin % 10) * 3)
	v := r.regs[selReg]
	v &^= 0x7 << shift
	if dir == Output {
		v |= 0x1 << shift
	}
	r.regs[selReg] = v

	var pudMode uint32
	switch pull {
	case PullUp:
		pudMode = 2
	case PullDown:
		pudMode = 1
	default:
		pudMode = 0
	}
	r.regs[regPUD] = pudMode
	r.clockDelay()
	r.regs[regPUDCLK0+pin/32] = 1 << uint(pin%32)
	r.clockDelay()
	r.regs[regPUD] = 0
	r.regs[regPUDCLK0+pin/32] = 0

	return nil
}

// clockDelay satisfies the BCM283x-documented >=150-cycle settle time
// between writing GPPUD and strobing GPPUDCLK.
func (r *Real) clockDelay() {
	for i := 0; i < 200; i++ {
		_ = r.regs[regLEV0]
	}
}

func (r *Real) SetOutput(pin int, level bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level {
		r.regs[regSET0+pin/32] = 1 << uint(pin%32)
	} else {
		r.regs[regCLR0+pin/32] = 1 << uint(pin%32)
	}
	return nil
}

func (r *Real) ReadInput(pin int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.regs[regLEV0+pin/32]
	return v&(1<<uint(pin%32)) != 0, nil
}

func (r *Real) i2cBus(bus int) (rpii2c.Bus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.i2c[bus]; ok {
		return b, nil
	}
	b, err := rpii2c.New()
	if err != nil {
		return nil, fmt.Errorf("hal: open i2c bus %d: %w", bus, err)
	}
	r.i2c[bus] = b
	return b, nil
}

func (r *Real) I2CRead(bus int, addr byte, register byte, length int) ([]byte, error) {
	b, err := r.i2cBus(bus)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if err := b.ReadFromReg(addr, register, out); err != nil {
		return nil, fmt.Errorf("hal: i2c read bus=%d addr=%#x reg=%#x: %w", bus, addr, register, err)
	}
	return out, nil
}

func (r *Real) I2CWrite(bus int, addr byte, register byte, data []byte) error {
	b, err := r.i2cBus(bus)
	if err != nil {
		return err
	}
	if err := b.WriteToReg(addr, register, data); err != nil {
		return fmt.Errorf("hal: i2c write bus=%d addr=%#x reg=%#x: %w", bus, addr, register, err)
	}
	return nil
}

const oneWireRoot = "/sys/bus/w1/devices"

func (r *Real) OneWireList() ([]string, error) {
	entries, err := os.ReadDir(oneWireRoot)
	if err != nil {
		return nil, fmt.Errorf("hal: list 1-wire devices: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "w1_bus_master") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (r *Real) OneWireRead(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(oneWireRoot, id, "w1_slave"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrOneWireDeviceMissing{ID: id}
		}
		return nil, fmt.Errorf("hal: read 1-wire device %q: %w", id, err)
	}
	return data, nil
}

func (r *Real) NDelay(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		// busy-wait: OS-thread-bound caller must have locked itself via
		// runtime.LockOSThread before invoking this on the bit-bang path.
	}
}

func (r *Real) MSleep(d time.Duration) { time.Sleep(d) }

func (r *Real) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.i2c {
		_ = b.Close()
	}
	return unix.Munmap(r.mem)
}
