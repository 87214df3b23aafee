package peripherals

import (
	"fmt"
	"time"
)

// SupervisorState is the startup handshake of the competition link. The only
// transition is Uninitialized -> Initialized, taken on the first tick at or
// after SupervisorStartupDelay of virtual time.
type SupervisorState uint8

const (
	SupervisorUninitialized SupervisorState = iota
	SupervisorInitialized
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorUninitialized:
		return "uninitialized"
	case SupervisorInitialized:
		return "initialized"
	}
	return fmt.Sprintf("SupervisorState(%d)", uint8(s))
}

// Supervisor timing. Firmware expects these latencies from real hardware.
const (
	SupervisorArmDelay     = time.Millisecond
	SupervisorTickInterval = 10 * time.Millisecond
	SupervisorStartupDelay = 1000 * time.Millisecond
)

// ensureTimer must be called with the lock held.
func (m *Manager) ensureTimer() {
	if m.timer == nil {
		m.timer = m.host.Clock().NewTimer(m.supervisorTick)
	}
}

// supervisorTick runs on the virtual clock. It always re-arms first, so the
// loop keeps running until Reset.
func (m *Manager) supervisorTick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.host.Clock().Now()
	m.timer.Mod(now + SupervisorTickInterval)

	switch m.state {
	case SupervisorUninitialized:
		if now < SupervisorStartupDelay {
			return
		}
		m.log.Logf(logTag, "Supervisor link up, raising IRQ %d", m.irq)
		m.state = SupervisorInitialized
		m.sample()
		m.regs.Result1 = 0
		m.regs.Result2 = 0
		m.host.RaiseInterrupt(m.irq)

	case SupervisorInitialized:
		m.sample()
		m.regs.Result1 = 1
		m.regs.Result2 = 0
		m.host.RaiseInterrupt(m.irq)
	}
}

// sample refreshes the status block from the telemetry source. On error the
// previous snapshot is kept.
func (m *Manager) sample() {
	if m.source == nil {
		return
	}
	st := m.status
	if err := m.source.Sample(&st); err != nil {
		m.log.Logf("telemetry", "sample failed: %v", err)
		return
	}
	m.status = st
}
