package peripherals

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"vexsim/pkg/machine"
	"vexsim/pkg/telemetry"
)

type board struct {
	m        *machine.Machine
	mgr      *Manager
	serial   *bytes.Buffer
	exitCode *int
}

func newBoard(t *testing.T) *board {
	t.Helper()
	b := &board{m: machine.New(0), serial: new(bytes.Buffer)}
	b.m.Output = b.serial
	b.m.SetExitHook(func(code int) { b.exitCode = &code })
	b.mgr = NewManager(b.m, Options{IRQLine: machine.SPI1IRQ})
	b.m.Mount(machine.ManagerBase, machine.ManagerSize, b.mgr)
	return b
}

func (b *board) write(offset, val uint32) {
	b.m.Write(machine.ManagerBase+offset, val, 4)
}

func (b *board) read(offset uint32) uint32 {
	return b.m.Read(machine.ManagerBase+offset, 4)
}

func (b *board) call(mod Module, fn uint16, args ...uint32) {
	for i, a := range args {
		b.write(RegArg1+uint32(i)*4, a)
	}
	b.write(RegControl, Command{mod, fn}.Word())
}

func (b *board) irqs() uint64 {
	return b.m.InterruptCount(machine.SPI1IRQ)
}

func TestRegisters_ReadBack(t *testing.T) {
	b := newBoard(t)
	b.write(RegArg1, 0x11111111)
	b.write(RegArg2, 0x22222222)
	b.write(RegArg3, 0x33333333)

	if b.read(RegArg1) != 0x11111111 || b.read(RegArg2) != 0x22222222 || b.read(RegArg3) != 0x33333333 {
		t.Errorf("Argument registers did not read back")
	}

	b.write(RegControl, Command{ModuleMotor, MotorStopAll}.Word())
	if b.read(RegControl) != 0x00040002 {
		t.Errorf("Expected control 0x00040002, got 0x%08X", b.read(RegControl))
	}
	if b.read(RegArg1) != 0x11111111 {
		t.Errorf("Arguments must persist across commands")
	}
}

func TestRegisters_ResultsReadOnly(t *testing.T) {
	b := newBoard(t)
	b.write(RegResult1, 5)
	b.write(RegResult2, 6)
	if b.read(RegResult1) != 0 || b.read(RegResult2) != 0 {
		t.Errorf("Result registers must ignore writes")
	}
}

func TestRegisters_UnmappedOffsets(t *testing.T) {
	b := newBoard(t)
	b.write(RegArg1, 1)
	before := b.mgr.Registers()

	for off := uint32(0x18); off < machine.ManagerSize; off += 4 {
		b.write(off, 0xFFFFFFFF)
		if v := b.read(off); v != 0 {
			t.Fatalf("Offset 0x%X read 0x%X, expected 0", off, v)
		}
	}
	if after := b.mgr.Registers(); after != before {
		t.Errorf("Unmapped writes changed registers:\n%s", spew.Sdump(before, after))
	}
}

func TestRegisters_BadAccessSize(t *testing.T) {
	b := newBoard(t)
	b.write(RegArg1, 0xAABBCCDD)

	for _, size := range []int{1, 2, 3, 8} {
		if v := b.m.Read(machine.ManagerBase+RegArg1, size); v != 0 {
			t.Errorf("size %d: read 0x%X, expected 0", size, v)
		}
		b.m.Write(machine.ManagerBase+RegArg1, 0, size)
		b.m.Write(machine.ManagerBase+RegControl, Command{ModuleMotor, MotorGet}.Word(), size)
	}
	if b.read(RegArg1) != 0xAABBCCDD {
		t.Errorf("Narrow writes must be ignored")
	}
	if b.read(RegResult1) != 0 {
		t.Errorf("Narrow control write must not dispatch")
	}
}

func TestRegisters_Misaligned(t *testing.T) {
	b := newBoard(t)
	b.write(RegArg2, 7)
	for _, off := range []uint32{1, 2, 3, 5, 6, 9, 0x11} {
		if v := b.mgr.Read(off, 4); v != 0 {
			t.Errorf("offset 0x%X: read 0x%X, expected 0", off, v)
		}
		b.mgr.Write(off, 0xFFFFFFFF, 4)
	}
	if r := b.mgr.Registers(); r != (Registers{Arg2: 7}) {
		t.Errorf("Misaligned writes changed registers: %+v", r)
	}
}

func TestSerialInit_Log(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleSerial, SerialInit, 5, 12000000, 1)

	if !strings.Contains(b.mgr.Log().String(), "UART 5 to 12000000/1") {
		t.Errorf("Expected UART init trace, got %q", b.mgr.Log().String())
	}
	if b.read(RegResult1) != 0 || b.read(RegResult2) != 0 {
		t.Errorf("Expected zero results")
	}
}

func TestSerialShutdownAndPutc(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleSerial, SerialShutdown, 2)
	b.call(ModuleSerial, SerialPutc, 1, 'O')
	b.call(ModuleSerial, SerialPutc, 1, 'K')

	if b.serial.String() != "OK" {
		t.Errorf("Expected serial output \"OK\", got %q", b.serial.String())
	}
	if !strings.Contains(b.mgr.Log().String(), "Shut down UART 2") {
		t.Errorf("Expected shutdown trace")
	}
}

func TestGPIO(t *testing.T) {
	tests := []struct {
		fn   uint16
		args []uint32
		want string
	}{
		{GPIOADCInit, nil, "Initializing ADC"},
		{GPIOSetDir, []uint32{3, 0}, "Set mode of pin 3 to INPUT_ANALOG (0)"},
		{GPIOSetDir, []uint32{3, 1}, "Set mode of pin 3 to OUTPUT (1)"},
		{GPIOSetDir, []uint32{3, 4}, "Set mode of pin 3 to INPUT_FLOATING (4)"},
		{GPIOSetDir, []uint32{3, 5}, "Set mode of pin 3 to OUTPUT_OD (5)"},
		{GPIOSetDir, []uint32{3, 9}, "Set mode of pin 3 to AFO (9)"},
		{GPIOSetDir, []uint32{3, 10}, "Set mode of pin 3 to INPUT (10)"},
		{GPIOSetDir, []uint32{3, 2}, "Set mode of pin 3 to unknown (2)"},
		{GPIOSetOutput, []uint32{8, 1}, "Wrote 1 to pin 8"},
		{GPIOSetInterrupt, []uint32{6, 3}, "Set interrupt mask of pin 6 to 3"},
	}

	for _, tc := range tests {
		b := newBoard(t)
		b.call(ModuleGPIO, tc.fn, tc.args...)
		entries := b.mgr.Log().Entries()
		if len(entries) != 1 || entries[0].Detail != tc.want {
			t.Errorf("fn %d: expected %q, got %v", tc.fn, tc.want, entries)
		}
	}
}

func TestGPIO_ReservedAreSilent(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleGPIO, GPIOGetInput, 1)
	b.call(ModuleGPIO, GPIOGetOutput, 1)
	b.call(ModuleSystem, SystemBreak)
	if n := len(b.mgr.Log().Entries()); n != 0 {
		t.Errorf("Expected no trace from reserved commands, got %d entries", n)
	}
	if b.read(RegResult1) != 0 {
		t.Errorf("Reserved commands must not set results")
	}
}

func TestMotor(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleMotor, MotorGet, 0xDEAD, 0xBEEF, 0xF00D)
	if b.read(RegResult1) != 127 || b.read(RegResult2) != 0 {
		t.Errorf("Expected result1=127 result2=0, got %d %d", b.read(RegResult1), b.read(RegResult2))
	}

	b.call(ModuleMotor, MotorSet, 2, uint32(0xFFFFFF81)) // -127
	if b.read(RegResult1) != 0 {
		t.Errorf("Expected results cleared by the next command")
	}
	b.call(ModuleMotor, MotorStopAll)

	log := b.mgr.Log().String()
	if !strings.Contains(log, "Setting motor 2 to -127") || !strings.Contains(log, "Stopping all motors") {
		t.Errorf("Unexpected motor trace %q", log)
	}
}

func TestUnknownCommand(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1100 * time.Millisecond)
	irqsBefore := b.irqs()

	b.call(ModuleMotor, MotorGet)
	b.write(RegControl, 9<<16)
	if b.read(RegResult1) != 0 || b.read(RegResult2) != 0 {
		t.Errorf("Unknown command leaves results at their cleared value")
	}
	if b.irqs() != irqsBefore {
		t.Errorf("Unknown command raised an interrupt")
	}

	b.call(Module(4), 9, 1, 2, 3)
	log := b.mgr.Log().String()
	if !strings.Contains(log, "Unknown 9.0(") || !strings.Contains(log, "Unknown 4.9(1,2,3)") {
		t.Errorf("Expected unknown-command diagnostics, got %q", log)
	}
}

func TestSupervisor_Handshake(t *testing.T) {
	b := newBoard(t)
	clk := b.m.Clock()

	clk.Advance(2 * time.Second)
	if b.irqs() != 0 {
		t.Fatalf("Supervisor must not run before competition init")
	}

	b = newBoard(t)
	clk = b.m.Clock()
	b.call(ModuleCompetition, CompetitionInit)
	if !b.mgr.Armed() {
		t.Fatalf("Expected supervisor armed")
	}

	clk.Advance(1000 * time.Millisecond)
	if b.irqs() != 0 || b.mgr.SupervisorState() != SupervisorUninitialized {
		t.Fatalf("No interrupt expected before the startup delay has elapsed")
	}

	// Ticks fall on 1ms + 10ms*n, so the first qualifying one is at 1001ms.
	clk.Advance(time.Millisecond)
	if b.irqs() != 1 {
		t.Fatalf("Expected exactly one interrupt at init, got %d", b.irqs())
	}
	if b.mgr.SupervisorState() != SupervisorInitialized {
		t.Fatalf("Expected initialized state")
	}
	if b.read(RegResult1) != 0 || b.read(RegResult2) != 0 {
		t.Errorf("Expected results cleared on init")
	}

	for i := 2; i <= 5; i++ {
		clk.Advance(SupervisorTickInterval)
		if b.irqs() != uint64(i) {
			t.Fatalf("Expected %d interrupts, got %d", i, b.irqs())
		}
		if b.read(RegResult1) != 1 || b.read(RegResult2) != 0 {
			t.Errorf("Expected result1=1 result2=0 after tick %d", i)
		}
	}

	if n := strings.Count(b.mgr.Log().String(), "Supervisor link up"); n != 1 {
		t.Errorf("Expected the init transition to be logged once, got %d", n)
	}
}

func TestSupervisor_LateInit(t *testing.T) {
	b := newBoard(t)
	clk := b.m.Clock()
	clk.Advance(5 * time.Second)

	b.call(ModuleCompetition, CompetitionInit)
	clk.Advance(time.Millisecond)
	if b.irqs() != 1 || b.mgr.SupervisorState() != SupervisorInitialized {
		t.Errorf("Expected immediate init when armed after the startup delay")
	}
}

func TestSupervisor_NotDisarmedByCommands(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1001 * time.Millisecond)

	b.call(ModuleSystem, SystemExit, 0)
	b.call(ModuleMotor, MotorStopAll)
	b.m.Clock().Advance(100 * time.Millisecond)
	if b.irqs() != 11 {
		t.Errorf("Expected 11 interrupts, got %d", b.irqs())
	}
}

func TestSupervisor_ResetDisarms(t *testing.T) {
	b := newBoard(t)
	st := telemetry.Status{GameStatus: 0xC0, MainBattery: 0x91}
	b.mgr.SetSource(telemetry.Static{Value: st})
	addr := machine.RAMBase + 0x100
	_ = b.m.WriteGuest(addr, []byte("BOT1"))
	b.call(ModuleCompetition, CompetitionSetName, addr)
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1001 * time.Millisecond)
	b.call(ModuleCompetition, CompetitionGetStatus, addr+0x10)
	b.call(ModuleMotor, MotorGet, 1, 2, 3)

	if !b.mgr.FirstSyncDone() || b.mgr.RobotName() != "BOT1" || b.mgr.Status() != st || b.mgr.Registers().Result1 != MotorGetValue {
		t.Fatalf("Setup did not reach the synced state: %s", spew.Sdump(b.mgr.Registers(), b.mgr.Status()))
	}

	b.mgr.Reset()

	if b.mgr.Armed() || b.mgr.SupervisorState() != SupervisorUninitialized {
		t.Fatalf("Reset must disarm and return to uninitialized")
	}
	if regs := b.mgr.Registers(); regs != (Registers{}) {
		t.Errorf("Expected zeroed registers after reset, got %+v", regs)
	}
	if b.mgr.FirstSyncDone() {
		t.Errorf("Expected first sync cleared after reset")
	}
	if b.mgr.RobotName() != "" {
		t.Errorf("Expected empty name after reset, got %q", b.mgr.RobotName())
	}
	if b.mgr.Status() != (telemetry.Status{}) {
		t.Errorf("Expected zeroed status after reset, got %+v", b.mgr.Status())
	}
	before := b.irqs()
	b.m.Clock().Advance(time.Second)
	if b.irqs() != before {
		t.Errorf("Interrupts after reset")
	}
}

func TestSupervisor_SamplesSource(t *testing.T) {
	b := newBoard(t)
	pad := telemetry.NewPad(180, 90)
	b.mgr.SetSource(pad)
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1001 * time.Millisecond)

	if st := b.mgr.Status(); st.MainBattery != 180 || st.Joysticks[1].Axis[5] != telemetry.AxisCenter {
		t.Fatalf("Expected pad sampled at init, got %+v", st)
	}

	_ = pad.SetAxis(0, 1, 250)
	if b.mgr.Status().Joysticks[0].Axis[1] == 250 {
		t.Fatalf("Snapshot must only change on a tick")
	}
	b.m.Clock().Advance(SupervisorTickInterval)
	if b.mgr.Status().Joysticks[0].Axis[1] != 250 {
		t.Errorf("Expected new sample after tick")
	}
}

type failingSource struct{}

func (failingSource) Sample(*telemetry.Status) error { return errors.New("link down") }

func TestSupervisor_SourceErrorKeepsSnapshot(t *testing.T) {
	b := newBoard(t)
	b.mgr.SetSource(telemetry.Static{Value: telemetry.Status{GameStatus: 3}})
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1001 * time.Millisecond)

	b.mgr.SetSource(failingSource{})
	b.m.Clock().Advance(30 * time.Millisecond)

	if b.mgr.Status().GameStatus != 3 {
		t.Errorf("Expected previous snapshot kept")
	}
	if b.irqs() != 4 {
		t.Errorf("Sampling errors must not stop interrupts, got %d", b.irqs())
	}
	if !strings.Contains(b.mgr.Log().String(), "sample failed: link down (repeat x3)") {
		t.Errorf("Expected collapsed sample errors, got %q", b.mgr.Log().String())
	}
}

func TestSetName_CopiesFourBytes(t *testing.T) {
	b := newBoard(t)
	addr := machine.RAMBase + 0x200
	_ = b.m.WriteGuest(addr, []byte("ABCD1234"))

	b.call(ModuleCompetition, CompetitionSetName, addr)
	if b.mgr.RobotName() != "ABCD" {
		t.Errorf("Expected name \"ABCD\", got %q", b.mgr.RobotName())
	}
	if !strings.Contains(b.mgr.Log().String(), "Set robot name to 'ABCD'") {
		t.Errorf("Expected name trace, got %q", b.mgr.Log().String())
	}

	_ = b.m.WriteGuest(addr, []byte("WXYZ"))
	b.call(ModuleCompetition, CompetitionSetName, addr)
	if b.mgr.RobotName() != "WXYZ" {
		t.Errorf("Expected name overwritten, got %q", b.mgr.RobotName())
	}
}

func TestGetStatus_WritesBlock(t *testing.T) {
	b := newBoard(t)
	want := telemetry.Status{GameStatus: 0xC0, MainBattery: 0x91, BackupBattery: 0x12}
	want.Joysticks[0].Axis = [6]uint8{1, 2, 3, 4, 5, 6}
	want.Joysticks[1].Buttons78 = 0x0F
	b.mgr.SetSource(telemetry.Static{Value: want})
	b.call(ModuleCompetition, CompetitionInit)
	b.m.Clock().Advance(1001 * time.Millisecond)

	addr := machine.RAMBase + 0x400
	_ = b.m.WriteGuest(addr+telemetry.StatusSize, []byte{0xEE})
	b.call(ModuleCompetition, CompetitionGetStatus, addr)

	got, _ := b.m.ReadGuest(addr, telemetry.StatusSize+1)
	wantBytes, _ := want.MarshalBinary()
	if !bytes.Equal(got[:telemetry.StatusSize], wantBytes) {
		t.Errorf("Status block mismatch\n got: % X\nwant: % X", got[:telemetry.StatusSize], wantBytes)
	}
	if got[telemetry.StatusSize] != 0xEE {
		t.Errorf("Status dump overran the block")
	}
	if !b.mgr.FirstSyncDone() {
		t.Errorf("Expected first sync done")
	}
}

func TestFirstSync_SuppressesStartupTrace(t *testing.T) {
	b := newBoard(t)
	name := machine.RAMBase + 0x10
	buf := machine.RAMBase + 0x100
	_ = b.m.WriteGuest(name, []byte("BOT1"))

	b.call(ModuleCompetition, CompetitionSetName, name)
	b.call(ModuleCompetition, CompetitionGetStatus, buf)
	b.call(ModuleCompetition, CompetitionGetStatus, buf)
	b.call(ModuleCompetition, CompetitionSetName, name)

	log := b.mgr.Log().String()
	if strings.Count(log, "Dumping status") != 1 {
		t.Errorf("Expected one status dump trace, got %q", log)
	}
	if strings.Count(log, "Set robot name") != 1 {
		t.Errorf("Expected one name trace, got %q", log)
	}
}

func TestGuestFaults(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleCompetition, CompetitionSetName, 0x10)
	b.call(ModuleCompetition, CompetitionGetStatus, 0xFFFFFFF0)

	if b.mgr.RobotName() != "" {
		t.Errorf("Faulted set name must not change the name")
	}
	if b.mgr.FirstSyncDone() {
		t.Errorf("Faulted status dump must not complete the first sync")
	}
	if n := strings.Count(b.mgr.Log().String(), "fault: "); n != 2 {
		t.Errorf("Expected 2 fault traces, got %d", n)
	}
}

func TestSystemExit(t *testing.T) {
	b := newBoard(t)
	b.call(ModuleSystem, SystemExit, 7)
	if b.exitCode == nil || *b.exitCode != 7 {
		t.Fatalf("Expected exit code 7, got %v", b.exitCode)
	}

	b.call(ModuleSystem, SystemExit, uint32(0xFFFFFFFF))
	if *b.exitCode != -1 {
		t.Errorf("Expected exit code -1, got %d", *b.exitCode)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a := newBoard(t)
	b := newBoard(t)

	a.call(ModuleCompetition, CompetitionInit)
	a.call(ModuleSerial, SerialInit, 1, 9600, 0)
	a.m.Clock().Advance(1001 * time.Millisecond)
	b.m.Clock().Advance(1001 * time.Millisecond)

	if b.irqs() != 0 || b.mgr.Armed() {
		t.Errorf("Second instance affected by the first")
	}
	if len(b.mgr.Log().Entries()) != 0 {
		t.Errorf("Second instance shares the first instance's trace")
	}
}

func TestStateRoundTrip(t *testing.T) {
	a := newBoard(t)
	_ = a.m.WriteGuest(machine.RAMBase, []byte("NAME"))
	a.mgr.SetSource(telemetry.Static{Value: telemetry.Status{MainBattery: 77}})
	a.call(ModuleCompetition, CompetitionSetName, machine.RAMBase)
	a.call(ModuleCompetition, CompetitionInit)
	a.m.Clock().Advance(1005 * time.Millisecond)
	a.call(ModuleCompetition, CompetitionGetStatus, machine.RAMBase+0x40, 5, 6)

	data, err := a.m.HibernateToBytes()
	if err != nil {
		t.Fatalf("HibernateToBytes failed: %v", err)
	}

	b := newBoard(t)
	if err := b.m.RestoreFromBytes(data); err != nil {
		t.Fatalf("RestoreFromBytes failed: %v", err)
	}

	if a.mgr.Registers() != b.mgr.Registers() {
		t.Errorf("Registers differ:\n%s", spew.Sdump(a.mgr.Registers(), b.mgr.Registers()))
	}
	if b.mgr.RobotName() != "NAME" || !b.mgr.FirstSyncDone() || b.mgr.SupervisorState() != SupervisorInitialized {
		t.Errorf("Handshake state not restored")
	}
	if b.mgr.Status().MainBattery != 77 {
		t.Errorf("Status not restored")
	}

	irqs := b.irqs()
	b.m.Clock().Advance(SupervisorTickInterval)
	if b.irqs() != irqs+1 {
		t.Errorf("Expected supervisor to resume after restore")
	}
}

func TestLoadState_Rejects(t *testing.T) {
	b := newBoard(t)
	if err := b.mgr.LoadState([]byte{1, 2, 3}); err == nil {
		t.Errorf("Expected short payload error")
	}
	bad := b.mgr.SaveState()
	bad[24] = 9
	if err := b.mgr.LoadState(bad); err == nil {
		t.Errorf("Expected bad state error")
	}
}

func TestDecodeCommand(t *testing.T) {
	c := DecodeCommand(0x00050003)
	if c.Module != ModuleCompetition || c.Function != CompetitionGetStatus {
		t.Errorf("Unexpected decode %v", c)
	}
	if c.Word() != 0x00050003 || c.String() != "5.3" {
		t.Errorf("Unexpected encode %08X %s", c.Word(), c)
	}
	if !Implemented(c) || Implemented(Command{9, 0}) || Implemented(Command{ModuleGPIO, 6}) {
		t.Errorf("Unexpected command table membership")
	}
}
