// pkg/config/config.go
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Board     BoardConfig     `yaml:"board"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Run       RunConfig       `yaml:"run"`
}

// ---- BOARD ----

type BoardConfig struct {
	RAMSize int `yaml:"ram_size"`
}

// ---- LOG ----

type LogConfig struct {
	Echo       bool `yaml:"echo"`
	MaxEntries int  `yaml:"max_entries"`
}

// ---- TELEMETRY ----

const (
	SourceStatic   = "static"
	SourcePad      = "pad"
	SourceFieldbus = "fieldbus"
)

type TelemetryConfig struct {
	Source   string         `yaml:"source"`
	Static   StaticConfig   `yaml:"static"`
	Fieldbus FieldbusConfig `yaml:"fieldbus"`
}

type StaticConfig struct {
	GameStatus    uint8      `yaml:"game_status"`
	MainBattery   uint8      `yaml:"main_battery"`
	BackupBattery uint8      `yaml:"backup_battery"`
	Axes          [][]uint8  `yaml:"axes"`    // per joystick, up to 6 values
	Buttons       [][2]uint8 `yaml:"buttons"` // per joystick: buttons56, buttons78
}

type FieldbusConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	Address    uint16 `yaml:"address"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	IntervalMs int    `yaml:"interval_ms"`
}

// ---- RUN ----

type RunConfig struct {
	Paced bool `yaml:"paced"`
}

// Default returns a normalized configuration with a static telemetry source.
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// Load reads and decodes a YAML configuration. Unknown keys are rejected.
// The result is not validated or normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML configuration from memory.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Open loads, validates and normalizes the configuration at path. An empty
// path yields the defaults.
func Open(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	Normalize(cfg)
	return cfg, nil
}
