package telemetry

import "fmt"

const (
	// AxisCount is the number of analog axes per joystick.
	AxisCount = 6
	// JoystickCount is the number of joysticks reported by the field link.
	JoystickCount = 2

	joystickSize = AxisCount + 2

	// StatusSize is the length of the status block as seen by guest firmware:
	// gameStatus, mainBattery, backupBattery, then two joystick records.
	StatusSize = 3 + JoystickCount*joystickSize
)

// Joystick is one controller record. Buttons56 and Buttons78 are bit banks
// for the shoulder and face button groups.
type Joystick struct {
	Axis      [AxisCount]uint8
	Buttons56 uint8
	Buttons78 uint8
}

// Status is the telemetry snapshot the supervisor exposes to firmware.
//
// Wire layout, no padding:
//
//	0      gameStatus
//	1      mainBattery
//	2      backupBattery
//	3..10  joystick 0: axis[0..5], buttons56, buttons78
//	11..18 joystick 1: axis[0..5], buttons56, buttons78
type Status struct {
	GameStatus    uint8
	MainBattery   uint8
	BackupBattery uint8
	Joysticks     [JoystickCount]Joystick
}

// MarshalBinary encodes the status block in its wire layout.
func (s Status) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, StatusSize))
}

// AppendBinary appends the wire layout of s to b.
func (s Status) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, s.GameStatus, s.MainBattery, s.BackupBattery)
	for _, j := range s.Joysticks {
		b = append(b, j.Axis[:]...)
		b = append(b, j.Buttons56, j.Buttons78)
	}
	return b, nil
}

// UnmarshalBinary decodes a status block. Trailing bytes are rejected.
func (s *Status) UnmarshalBinary(data []byte) error {
	if len(data) != StatusSize {
		return fmt.Errorf("telemetry: status block must be %d bytes, got %d", StatusSize, len(data))
	}
	s.GameStatus = data[0]
	s.MainBattery = data[1]
	s.BackupBattery = data[2]
	off := 3
	for i := range s.Joysticks {
		j := &s.Joysticks[i]
		copy(j.Axis[:], data[off:off+AxisCount])
		j.Buttons56 = data[off+AxisCount]
		j.Buttons78 = data[off+AxisCount+1]
		off += joystickSize
	}
	return nil
}

// FieldOffset names a byte in the status layout; used by the layout listing.
type FieldOffset struct {
	Offset int
	Name   string
}

// Layout lists every byte of the status block in wire order.
func Layout() []FieldOffset {
	out := []FieldOffset{
		{0, "gameStatus"},
		{1, "mainBattery"},
		{2, "backupBattery"},
	}
	off := 3
	for j := 0; j < JoystickCount; j++ {
		for a := 0; a < AxisCount; a++ {
			out = append(out, FieldOffset{off, fmt.Sprintf("joystick[%d].axis[%d]", j, a)})
			off++
		}
		out = append(out, FieldOffset{off, fmt.Sprintf("joystick[%d].button56", j)})
		off++
		out = append(out, FieldOffset{off, fmt.Sprintf("joystick[%d].button78", j)})
		off++
	}
	return out
}
