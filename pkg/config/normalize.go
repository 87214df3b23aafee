// pkg/config/normalize.go
package config

import "vexsim/pkg/machine"

// Defaults applied by Normalize.
const (
	DefaultFieldbusTimeoutMs  = 1000
	DefaultFieldbusIntervalMs = 50
	DefaultMainBattery        = 0x91
	DefaultBackupBattery      = 0x12
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Board.RAMSize == 0 {
		cfg.Board.RAMSize = machine.DefaultRAMSize
	}

	if cfg.Telemetry.Source == "" {
		cfg.Telemetry.Source = SourceStatic
	}

	// Batteries default to a charged pack.
	st := &cfg.Telemetry.Static
	if st.MainBattery == 0 && st.BackupBattery == 0 {
		st.MainBattery = DefaultMainBattery
		st.BackupBattery = DefaultBackupBattery
	}

	fb := &cfg.Telemetry.Fieldbus
	if fb.TimeoutMs == 0 {
		fb.TimeoutMs = DefaultFieldbusTimeoutMs
	}
	if fb.IntervalMs == 0 {
		fb.IntervalMs = DefaultFieldbusIntervalMs
	}
}
