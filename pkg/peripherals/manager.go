package peripherals

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"vexsim/pkg/clock"
	"vexsim/pkg/logger"
	"vexsim/pkg/telemetry"
)

const ManagerPeripheralType = "Manager"

// Register offsets within the manager block.
const (
	RegControl = 0x00
	RegArg1    = 0x04
	RegArg2    = 0x08
	RegArg3    = 0x0C
	RegResult1 = 0x10
	RegResult2 = 0x14
)

// Host is what the manager needs from the board it is mounted on.
type Host interface {
	RaiseInterrupt(line int)
	ReadGuest(addr uint32, n int) ([]byte, error)
	WriteGuest(addr uint32, data []byte) error
	EmitCharacter(b byte)
	Exit(code int)
	Clock() *clock.Clock
}

// Registers is a copy of the manager's register file.
type Registers struct {
	Control uint32
	Arg1    uint32
	Arg2    uint32
	Arg3    uint32
	Result1 uint32
	Result2 uint32
}

// Options configures a Manager. A nil Log gets a private logger; a nil
// Source leaves the status block zeroed.
type Options struct {
	IRQLine int
	Log     *logger.Logger
	Source  telemetry.Source
}

// Manager emulates the firmware-facing manager block of the Cortex controller:
// guest firmware writes arguments and a command word, the manager performs the
// hardware action and leaves results in two registers. Once the competition
// link is started, a supervisor timer raises IRQLine on every tick.
//
// All state is guarded by one mutex shared by MMIO accesses and the timer
// callback.
type Manager struct {
	mu sync.Mutex

	host   Host
	irq    int
	log    *logger.Logger
	source telemetry.Source
	timer  *clock.Timer

	regs      Registers
	state     SupervisorState
	firstSync bool
	robotName [8]byte
	status    telemetry.Status
}

func NewManager(host Host, opts Options) *Manager {
	l := opts.Log
	if l == nil {
		l = logger.New(0)
	}
	return &Manager{
		host:   host,
		irq:    opts.IRQLine,
		log:    l,
		source: opts.Source,
	}
}

func (m *Manager) Type() string { return ManagerPeripheralType }

// Log returns the manager's trace.
func (m *Manager) Log() *logger.Logger { return m.log }

// SetSource replaces the telemetry source sampled on supervisor ticks.
func (m *Manager) SetSource(src telemetry.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = src
}

// Read returns a register value. Only aligned 32-bit accesses are decoded;
// anything else reads as 0.
func (m *Manager) Read(offset uint32, size int) uint32 {
	if size != 4 || offset&3 != 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch offset {
	case RegControl:
		return m.regs.Control
	case RegArg1:
		return m.regs.Arg1
	case RegArg2:
		return m.regs.Arg2
	case RegArg3:
		return m.regs.Arg3
	case RegResult1:
		return m.regs.Result1
	case RegResult2:
		return m.regs.Result2
	}
	return 0
}

// Write stores a register. A write to the control register executes the
// encoded command before returning. Unaligned or narrow writes are ignored.
func (m *Manager) Write(offset uint32, val uint32, size int) {
	if size != 4 || offset&3 != 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch offset {
	case RegControl:
		m.regs.Control = val
		m.regs.Result1 = 0
		m.regs.Result2 = 0
		m.dispatch(DecodeCommand(val))
	case RegArg1:
		m.regs.Arg1 = val
	case RegArg2:
		m.regs.Arg2 = val
	case RegArg3:
		m.regs.Arg3 = val
	}
}

// Reset returns the manager to its power-on state and stops the supervisor.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Del()
	}
	m.regs = Registers{}
	m.state = SupervisorUninitialized
	m.firstSync = false
	m.robotName = [8]byte{}
	m.status = telemetry.Status{}
}

func (m *Manager) Registers() Registers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs
}

func (m *Manager) SupervisorState() SupervisorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FirstSyncDone reports whether firmware has fetched the status block at
// least once.
func (m *Manager) FirstSyncDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstSync
}

// RobotName returns the name buffer with trailing NULs removed.
func (m *Manager) RobotName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return nameString(m.robotName)
}

// Status returns the current telemetry snapshot.
func (m *Manager) Status() telemetry.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Armed reports whether the supervisor timer is running.
func (m *Manager) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil && m.timer.Pending()
}

func nameString(b [8]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

// managerStateSize: six registers, state, first sync, armed flag, deadline,
// name buffer and status block.
const managerStateSize = 6*4 + 1 + 1 + 1 + 8 + 8 + telemetry.StatusSize

// SaveState serialises the register file and handshake state as
// little-endian bytes.
func (m *Manager) SaveState() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 0, managerStateSize)
	for _, r := range []uint32{m.regs.Control, m.regs.Arg1, m.regs.Arg2, m.regs.Arg3, m.regs.Result1, m.regs.Result2} {
		buf = binary.LittleEndian.AppendUint32(buf, r)
	}
	buf = append(buf, byte(m.state), boolByte(m.firstSync))

	var deadline time.Duration
	armed := false
	if m.timer != nil {
		deadline, armed = m.timer.Deadline()
	}
	buf = append(buf, boolByte(armed))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(deadline))
	buf = append(buf, m.robotName[:]...)
	buf, _ = m.status.AppendBinary(buf)
	return buf
}

// LoadState restores a payload produced by SaveState, re-arming the
// supervisor timer at its saved deadline.
func (m *Manager) LoadState(data []byte) error {
	if len(data) != managerStateSize {
		return fmt.Errorf("Manager.LoadState: need %d bytes, got %d", managerStateSize, len(data))
	}
	state := SupervisorState(data[24])
	if state != SupervisorUninitialized && state != SupervisorInitialized {
		return fmt.Errorf("Manager.LoadState: bad supervisor state %d", state)
	}

	var status telemetry.Status
	if err := status.UnmarshalBinary(data[43:]); err != nil {
		return fmt.Errorf("Manager.LoadState: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.regs = Registers{
		Control: binary.LittleEndian.Uint32(data[0:]),
		Arg1:    binary.LittleEndian.Uint32(data[4:]),
		Arg2:    binary.LittleEndian.Uint32(data[8:]),
		Arg3:    binary.LittleEndian.Uint32(data[12:]),
		Result1: binary.LittleEndian.Uint32(data[16:]),
		Result2: binary.LittleEndian.Uint32(data[20:]),
	}
	m.state = state
	m.firstSync = data[25] != 0
	copy(m.robotName[:], data[35:43])
	m.status = status

	armed := data[26] != 0
	deadline := time.Duration(binary.LittleEndian.Uint64(data[27:]))
	if armed {
		m.ensureTimer()
		m.timer.Mod(deadline)
	} else if m.timer != nil {
		m.timer.Del()
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
