// pkg/config/validate.go
package config

import (
	"fmt"
	"net"

	"vexsim/pkg/telemetry"
)

// Largest RAM the board model accepts.
const MaxRAMSize = 16 << 20

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}

	// ------------------------------------------------------------
	// BOARD
	// ------------------------------------------------------------

	if cfg.Board.RAMSize < 0 || cfg.Board.RAMSize > MaxRAMSize {
		return fmt.Errorf("board.ram_size %d out of range (0..%d)", cfg.Board.RAMSize, MaxRAMSize)
	}
	if cfg.Board.RAMSize%4 != 0 {
		return fmt.Errorf("board.ram_size %d must be a multiple of 4", cfg.Board.RAMSize)
	}

	if cfg.Log.MaxEntries < 0 {
		return fmt.Errorf("log.max_entries must not be negative")
	}

	// ------------------------------------------------------------
	// TELEMETRY
	// ------------------------------------------------------------

	switch cfg.Telemetry.Source {
	case "", SourceStatic, SourcePad:
	case SourceFieldbus:
		if err := validateFieldbus(cfg.Telemetry.Fieldbus); err != nil {
			return err
		}
	default:
		return fmt.Errorf("telemetry.source %q: want static, pad or fieldbus", cfg.Telemetry.Source)
	}

	st := cfg.Telemetry.Static
	if len(st.Axes) > telemetry.JoystickCount {
		return fmt.Errorf("telemetry.static.axes: at most %d joysticks", telemetry.JoystickCount)
	}
	for j, axes := range st.Axes {
		if len(axes) > telemetry.AxisCount {
			return fmt.Errorf("telemetry.static.axes[%d]: at most %d axes", j, telemetry.AxisCount)
		}
	}
	if len(st.Buttons) > telemetry.JoystickCount {
		return fmt.Errorf("telemetry.static.buttons: at most %d joysticks", telemetry.JoystickCount)
	}

	return nil
}

func validateFieldbus(fb FieldbusConfig) error {
	if fb.Endpoint == "" {
		return fmt.Errorf("telemetry.fieldbus.endpoint is required")
	}
	if _, _, err := net.SplitHostPort(fb.Endpoint); err != nil {
		return fmt.Errorf("telemetry.fieldbus.endpoint %q: %w", fb.Endpoint, err)
	}
	if fb.TimeoutMs < 0 {
		return fmt.Errorf("telemetry.fieldbus.timeout_ms must not be negative")
	}
	if fb.IntervalMs < 0 {
		return fmt.Errorf("telemetry.fieldbus.interval_ms must not be negative")
	}
	if int(fb.Address)+telemetry.StatusSize > 0x10000 {
		return fmt.Errorf("telemetry.fieldbus.address %d: block of %d registers overflows", fb.Address, telemetry.StatusSize)
	}
	return nil
}
