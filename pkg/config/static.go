package config

import "vexsim/pkg/telemetry"

// Status builds the fixed snapshot described by the static section. Axes that
// are not listed rest at the centre position.
func (s StaticConfig) Status() telemetry.Status {
	st := telemetry.Status{
		GameStatus:    s.GameStatus,
		MainBattery:   s.MainBattery,
		BackupBattery: s.BackupBattery,
	}
	for j := range st.Joysticks {
		js := &st.Joysticks[j]
		for a := range js.Axis {
			js.Axis[a] = telemetry.AxisCenter
		}
		if j < len(s.Axes) {
			copy(js.Axis[:], s.Axes[j])
		}
		if j < len(s.Buttons) {
			js.Buttons56 = s.Buttons[j][0]
			js.Buttons78 = s.Buttons[j][1]
		}
	}
	return st
}
