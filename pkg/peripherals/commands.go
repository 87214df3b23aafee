package peripherals

import "fmt"

// Module selects a group of manager commands (high half of the control word).
type Module uint16

const (
	ModuleSerial      Module = 0
	ModuleGPIO        Module = 3
	ModuleMotor       Module = 4
	ModuleCompetition Module = 5
	ModuleSystem      Module = 6
)

// Function codes, per module (low half of the control word).
const (
	SerialInit     uint16 = 0
	SerialShutdown uint16 = 1
	SerialPutc     uint16 = 2

	GPIOADCInit      uint16 = 0
	GPIOSetDir       uint16 = 1
	GPIOGetInput     uint16 = 2
	GPIOGetOutput    uint16 = 3
	GPIOSetOutput    uint16 = 4
	GPIOSetInterrupt uint16 = 5

	MotorGet     uint16 = 0
	MotorSet     uint16 = 1
	MotorStopAll uint16 = 2

	CompetitionInit             uint16 = 0
	CompetitionEnableStandalone uint16 = 1
	CompetitionSetName          uint16 = 2
	CompetitionGetStatus        uint16 = 3

	SystemExit  uint16 = 0
	SystemBreak uint16 = 1
)

// MotorGetValue is what every motor reports; there is no motor model behind it.
const MotorGetValue = 127

// robotNameCopyLen is how many bytes "set name" copies into the 8 byte name
// buffer. The hardware copies 4; the upper half is left as it was.
const robotNameCopyLen = 4

// Command is a decoded control word.
type Command struct {
	Module   Module
	Function uint16
}

// DecodeCommand splits a control word into module and function.
func DecodeCommand(word uint32) Command {
	return Command{Module: Module(word >> 16), Function: uint16(word)}
}

// Word encodes the command as a control word.
func (c Command) Word() uint32 {
	return uint32(c.Module)<<16 | uint32(c.Function)
}

func (c Command) String() string {
	return fmt.Sprintf("%d.%d", c.Module, c.Function)
}

// commandTable maps every implemented command to its handler. Handlers run
// with the manager lock held and results already cleared.
var commandTable = map[Command]func(*Manager){
	{ModuleSerial, SerialInit}:     (*Manager).serialInit,
	{ModuleSerial, SerialShutdown}: (*Manager).serialShutdown,
	{ModuleSerial, SerialPutc}:     (*Manager).serialPutc,

	{ModuleGPIO, GPIOADCInit}:      (*Manager).gpioADCInit,
	{ModuleGPIO, GPIOSetDir}:       (*Manager).gpioSetDir,
	{ModuleGPIO, GPIOGetInput}:     (*Manager).reserved,
	{ModuleGPIO, GPIOGetOutput}:    (*Manager).reserved,
	{ModuleGPIO, GPIOSetOutput}:    (*Manager).gpioSetOutput,
	{ModuleGPIO, GPIOSetInterrupt}: (*Manager).gpioSetInterrupt,

	{ModuleMotor, MotorGet}:     (*Manager).motorGet,
	{ModuleMotor, MotorSet}:     (*Manager).motorSet,
	{ModuleMotor, MotorStopAll}: (*Manager).motorStopAll,

	{ModuleCompetition, CompetitionInit}:             (*Manager).competitionInit,
	{ModuleCompetition, CompetitionEnableStandalone}: (*Manager).competitionEnableStandalone,
	{ModuleCompetition, CompetitionSetName}:          (*Manager).competitionSetName,
	{ModuleCompetition, CompetitionGetStatus}:        (*Manager).competitionGetStatus,

	{ModuleSystem, SystemExit}:  (*Manager).systemExit,
	{ModuleSystem, SystemBreak}: (*Manager).reserved,
}

// Implemented reports whether cmd has a handler. Anything else is logged as
// unknown and otherwise ignored.
func Implemented(cmd Command) bool {
	_, ok := commandTable[cmd]
	return ok
}

const logTag = "mgr"

func (m *Manager) dispatch(cmd Command) {
	if h, ok := commandTable[cmd]; ok {
		h(m)
		return
	}
	m.log.Logf(logTag, "Unknown %d.%d(%d,%d,%d)", cmd.Module, cmd.Function,
		int32(m.regs.Arg1), int32(m.regs.Arg2), int32(m.regs.Arg3))
}

func (m *Manager) reserved() {}

func (m *Manager) serialInit() {
	m.log.Logf(logTag, "Set UART %d to %d/%d", m.regs.Arg1, m.regs.Arg2, m.regs.Arg3)
}

func (m *Manager) serialShutdown() {
	m.log.Logf(logTag, "Shut down UART %d", m.regs.Arg1)
}

func (m *Manager) serialPutc() {
	m.host.EmitCharacter(byte(m.regs.Arg2))
}

// pinModes names the STM32 GPIO configurations firmware passes in arg2.
var pinModes = map[uint32]string{
	0:  "INPUT_ANALOG",
	1:  "OUTPUT",
	4:  "INPUT_FLOATING",
	5:  "OUTPUT_OD",
	9:  "AFO",
	10: "INPUT",
}

// PinModeName returns the name of a GPIO mode code, or "unknown".
func PinModeName(code uint32) string {
	if name, ok := pinModes[code]; ok {
		return name
	}
	return "unknown"
}

func (m *Manager) gpioADCInit() {
	m.log.Log(logTag, "Initializing ADC")
}

func (m *Manager) gpioSetDir() {
	m.log.Logf(logTag, "Set mode of pin %d to %s (%d)", m.regs.Arg1, PinModeName(m.regs.Arg2), m.regs.Arg2)
}

func (m *Manager) gpioSetOutput() {
	m.log.Logf(logTag, "Wrote %d to pin %d", m.regs.Arg2, m.regs.Arg1)
}

func (m *Manager) gpioSetInterrupt() {
	m.log.Logf(logTag, "Set interrupt mask of pin %d to %d", m.regs.Arg1, m.regs.Arg2)
}

func (m *Manager) motorGet() {
	m.regs.Result1 = MotorGetValue
}

func (m *Manager) motorSet() {
	m.log.Logf(logTag, "Setting motor %d to %d", m.regs.Arg1, int32(m.regs.Arg2))
}

func (m *Manager) motorStopAll() {
	m.log.Log(logTag, "Stopping all motors")
}

func (m *Manager) competitionInit() {
	m.log.Log(logTag, "Starting supervisor clock")
	m.ensureTimer()
	m.timer.Mod(m.host.Clock().Now() + SupervisorArmDelay)
}

func (m *Manager) competitionEnableStandalone() {
	m.log.Log(logTag, "Enabling standalone mode")
}

func (m *Manager) competitionSetName() {
	data, err := m.host.ReadGuest(m.regs.Arg1, robotNameCopyLen)
	if err != nil {
		m.log.Logf("fault", "set name: %v", err)
		return
	}
	copy(m.robotName[:robotNameCopyLen], data)
	if !m.firstSync {
		m.log.Logf(logTag, "Set robot name to '%s'", nameString(m.robotName))
	}
}

func (m *Manager) competitionGetStatus() {
	if !m.firstSync {
		m.log.Logf(logTag, "Dumping status to %08x", m.regs.Arg1)
	}
	data, _ := m.status.MarshalBinary()
	if err := m.host.WriteGuest(m.regs.Arg1, data); err != nil {
		m.log.Logf("fault", "get status: %v", err)
		return
	}
	m.firstSync = true
}

func (m *Manager) systemExit() {
	code := int(int32(m.regs.Arg1))
	m.log.Logf(logTag, "Exit(%d)", code)
	m.host.Exit(code)
}
