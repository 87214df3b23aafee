package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"vexsim/pkg/clock"
)

// Board memory map and interrupt wiring of the Cortex controller.
const (
	RAMBase        uint32 = 0x20000000
	DefaultRAMSize        = 64 * 1024

	ManagerBase uint32 = 0x40021400
	ManagerSize uint32 = 0xC00

	// SPI1IRQ is the NVIC line the supervisor link raises.
	SPI1IRQ = 35

	// IRQLines is the number of interrupt lines the latch tracks.
	IRQLines = 64
)

// ErrOutOfRange is returned for guest memory accesses that fall outside RAM.
var ErrOutOfRange = errors.New("memory access out of bounds")

type mapping struct {
	base uint32
	size uint32
	p    Peripheral
}

// Machine is the board the manager peripheral lives on: guest RAM, an MMIO
// bus, an interrupt latch, a virtual clock, a serial sink and an exit hook.
type Machine struct {
	memMu sync.Mutex
	ram   []byte

	busMu    sync.RWMutex
	mappings []mapping

	irqMu   sync.Mutex
	pending uint64
	counts  [IRQLines]uint64

	clk *clock.Clock

	// Output is where serial characters are sent.
	// If nil, os.Stdout is used.
	Output io.Writer

	exitHook func(code int)
}

// New creates a machine with ramSize bytes of RAM at RAMBase. A size <= 0
// selects DefaultRAMSize.
func New(ramSize int) *Machine {
	if ramSize <= 0 {
		ramSize = DefaultRAMSize
	}
	return &Machine{
		ram: make([]byte, ramSize),
		clk: clock.New(),
	}
}

// Clock returns the machine's virtual clock.
func (m *Machine) Clock() *clock.Clock {
	return m.clk
}

// RAMSize returns the size of guest RAM in bytes.
func (m *Machine) RAMSize() int {
	return len(m.ram)
}

// Mount maps p at [base, base+size). Later mounts shadow earlier ones.
func (m *Machine) Mount(base, size uint32, p Peripheral) {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	m.mappings = append([]mapping{{base: base, size: size, p: p}}, m.mappings...)
}

// PeripheralAt returns the peripheral mounted at exactly base.
func (m *Machine) PeripheralAt(base uint32) Peripheral {
	m.busMu.RLock()
	defer m.busMu.RUnlock()
	for _, mp := range m.mappings {
		if mp.base == base {
			return mp.p
		}
	}
	return nil
}

func (m *Machine) lookup(addr uint32) (Peripheral, uint32, bool) {
	m.busMu.RLock()
	defer m.busMu.RUnlock()
	for _, mp := range m.mappings {
		if addr >= mp.base && addr-mp.base < mp.size {
			return mp.p, addr - mp.base, true
		}
	}
	return nil, 0, false
}

// Read performs a guest load of size bytes (1, 2 or 4) at addr.
// Unmapped addresses read as 0.
func (m *Machine) Read(addr uint32, size int) uint32 {
	if p, offset, ok := m.lookup(addr); ok {
		return p.Read(offset, size)
	}
	if size != 1 && size != 2 && size != 4 {
		return 0
	}
	b, err := m.ReadGuest(addr, size)
	if err != nil {
		return 0
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// Write performs a guest store of size bytes (1, 2 or 4) at addr.
// Writes to unmapped addresses are dropped.
func (m *Machine) Write(addr uint32, val uint32, size int) {
	if p, offset, ok := m.lookup(addr); ok {
		p.Write(offset, val, size)
		return
	}
	if size != 1 && size != 2 && size != 4 {
		return
	}
	b := make([]byte, size)
	for i := 0; i < size; i++ {
		b[i] = byte(val >> (8 * i))
	}
	_ = m.WriteGuest(addr, b)
}

func (m *Machine) ramOffset(addr uint32, n int) (int, error) {
	if n < 0 || addr < RAMBase {
		return 0, fmt.Errorf("0x%08X+%d: %w", addr, n, ErrOutOfRange)
	}
	off := uint64(addr - RAMBase)
	if off+uint64(n) > uint64(len(m.ram)) {
		return 0, fmt.Errorf("0x%08X+%d: %w", addr, n, ErrOutOfRange)
	}
	return int(off), nil
}

// ReadGuest copies n bytes of guest RAM starting at addr.
func (m *Machine) ReadGuest(addr uint32, n int) ([]byte, error) {
	m.memMu.Lock()
	defer m.memMu.Unlock()
	off, err := m.ramOffset(addr, n)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, m.ram[off:off+n])
	return data, nil
}

// WriteGuest copies data into guest RAM at addr. Nothing is written if any
// part of the range is outside RAM.
func (m *Machine) WriteGuest(addr uint32, data []byte) error {
	m.memMu.Lock()
	defer m.memMu.Unlock()
	off, err := m.ramOffset(addr, len(data))
	if err != nil {
		return err
	}
	copy(m.ram[off:], data)
	return nil
}

// WriteWord stores a host value as a guest 32-bit word. The Cortex-M guest is
// little-endian, so the bytes are swapped on big-endian hosts.
func (m *Machine) WriteWord(addr uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return m.WriteGuest(addr, b[:])
}

// ReadWord loads a guest 32-bit word.
func (m *Machine) ReadWord(addr uint32) (uint32, error) {
	b, err := m.ReadGuest(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// RaiseInterrupt pulses an interrupt line: the line becomes pending until
// acknowledged and its pulse count goes up by one.
func (m *Machine) RaiseInterrupt(line int) {
	if line < 0 || line >= IRQLines {
		return
	}
	m.irqMu.Lock()
	defer m.irqMu.Unlock()
	m.pending |= 1 << uint(line)
	m.counts[line]++
}

// Pending reports whether line has been raised since it was last acknowledged.
func (m *Machine) Pending(line int) bool {
	if line < 0 || line >= IRQLines {
		return false
	}
	m.irqMu.Lock()
	defer m.irqMu.Unlock()
	return m.pending&(1<<uint(line)) != 0
}

// Ack clears the pending bit of line.
func (m *Machine) Ack(line int) {
	if line < 0 || line >= IRQLines {
		return
	}
	m.irqMu.Lock()
	defer m.irqMu.Unlock()
	m.pending &^= 1 << uint(line)
}

// InterruptCount returns how many times line has been pulsed.
func (m *Machine) InterruptCount(line int) uint64 {
	if line < 0 || line >= IRQLines {
		return 0
	}
	m.irqMu.Lock()
	defer m.irqMu.Unlock()
	return m.counts[line]
}

func (m *Machine) outputSink() io.Writer {
	if m.Output != nil {
		return m.Output
	}
	return os.Stdout
}

// EmitCharacter sends one byte to the serial console.
func (m *Machine) EmitCharacter(b byte) {
	m.outputSink().Write([]byte{b})
}

// SetExitHook replaces the action taken when the guest requests process exit.
func (m *Machine) SetExitHook(hook func(code int)) {
	m.exitHook = hook
}

// Exit terminates the emulated process with code, through the exit hook when
// one is installed.
func (m *Machine) Exit(code int) {
	if m.exitHook != nil {
		m.exitHook(code)
		return
	}
	os.Exit(code)
}
