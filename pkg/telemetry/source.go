package telemetry

import (
	"fmt"
	"sync"
)

// Source supplies fresh field data to the supervisor. Sample is called from
// the emulation thread on every supervisor tick and must not block.
type Source interface {
	Sample(st *Status) error
}

// Static always reports the same snapshot.
type Static struct {
	Value Status
}

func (s Static) Sample(st *Status) error {
	*st = s.Value
	return nil
}

// AxisCenter is the resting value of an analog axis.
const AxisCenter = 127

// Button bank selectors for Pad.SetButton.
const (
	Bank56 = 0
	Bank78 = 1
)

// Pad is host-side controller state that front ends update from their own
// input goroutines. Sample copies it under a lock.
type Pad struct {
	mu sync.Mutex
	st Status
}

// NewPad creates a Pad with every axis centred and the given batteries.
func NewPad(mainBattery, backupBattery uint8) *Pad {
	p := &Pad{}
	p.st.MainBattery = mainBattery
	p.st.BackupBattery = backupBattery
	for j := range p.st.Joysticks {
		for a := range p.st.Joysticks[j].Axis {
			p.st.Joysticks[j].Axis[a] = AxisCenter
		}
	}
	return p
}

func (p *Pad) Sample(st *Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*st = p.st
	return nil
}

// Snapshot returns the current pad state.
func (p *Pad) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

func (p *Pad) SetAxis(joystick, axis int, value uint8) error {
	if joystick < 0 || joystick >= JoystickCount || axis < 0 || axis >= AxisCount {
		return fmt.Errorf("telemetry: no axis %d on joystick %d", axis, joystick)
	}
	p.mu.Lock()
	p.st.Joysticks[joystick].Axis[axis] = value
	p.mu.Unlock()
	return nil
}

// SetButton sets or clears bit (0..7) in the selected bank of a joystick.
func (p *Pad) SetButton(joystick, bank int, bit uint, pressed bool) error {
	if joystick < 0 || joystick >= JoystickCount || bit > 7 {
		return fmt.Errorf("telemetry: no button %d on joystick %d", bit, joystick)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b *uint8
	switch bank {
	case Bank56:
		b = &p.st.Joysticks[joystick].Buttons56
	case Bank78:
		b = &p.st.Joysticks[joystick].Buttons78
	default:
		return fmt.Errorf("telemetry: no button bank %d", bank)
	}
	if pressed {
		*b |= 1 << bit
	} else {
		*b &^= 1 << bit
	}
	return nil
}

func (p *Pad) SetBattery(mainBattery, backupBattery uint8) {
	p.mu.Lock()
	p.st.MainBattery = mainBattery
	p.st.BackupBattery = backupBattery
	p.mu.Unlock()
}

func (p *Pad) SetGameStatus(v uint8) {
	p.mu.Lock()
	p.st.GameStatus = v
	p.mu.Unlock()
}
