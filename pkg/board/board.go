// Package board assembles a Cortex controller from configuration: guest RAM,
// the manager peripheral, its telemetry source and a firmware runner.
package board

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"vexsim/pkg/config"
	"vexsim/pkg/logger"
	"vexsim/pkg/machine"
	"vexsim/pkg/peripherals"
	"vexsim/pkg/script"
	"vexsim/pkg/telemetry"
	"vexsim/pkg/telemetry/fieldbus"
)

var registerOnce sync.Once

// RegisterPeripherals registers peripheral factories for hibernation restore.
func RegisterPeripherals() {
	registerOnce.Do(func() {
		machine.RegisterPeripheral(peripherals.ManagerPeripheralType, func(m *machine.Machine) machine.Peripheral {
			return peripherals.NewManager(m, peripherals.Options{IRQLine: machine.SPI1IRQ})
		})
	})
}

// dialFieldbus is replaced in tests.
var dialFieldbus = func(cfg fieldbus.ClientConfig) (fieldbus.Client, func() error, error) {
	c, err := fieldbus.Dial(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

type Board struct {
	Machine *machine.Machine
	Manager *peripherals.Manager
	Log     *logger.Logger
	Runner  *script.Runner

	// Pad is set when telemetry comes from host input.
	Pad *telemetry.Pad

	fieldbus      *fieldbus.Source
	closeFieldbus func() error
}

// New builds a board from a validated, normalized configuration.
func New(cfg *config.Config) (*Board, error) {
	RegisterPeripherals()

	b := &Board{
		Machine: machine.New(cfg.Board.RAMSize),
		Log:     logger.New(cfg.Log.MaxEntries),
	}
	if cfg.Log.Echo {
		b.Log.SetEcho(os.Stderr)
	}

	var src telemetry.Source
	switch cfg.Telemetry.Source {
	case config.SourcePad:
		st := cfg.Telemetry.Static
		b.Pad = telemetry.NewPad(st.MainBattery, st.BackupBattery)
		b.Pad.SetGameStatus(st.GameStatus)
		src = b.Pad

	case config.SourceFieldbus:
		fb := cfg.Telemetry.Fieldbus
		client, closer, err := dialFieldbus(fieldbus.ClientConfig{
			Endpoint: fb.Endpoint,
			UnitID:   fb.UnitID,
			Timeout:  time.Duration(fb.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		s, err := fieldbus.New(client, fb.Address, time.Duration(fb.IntervalMs)*time.Millisecond)
		if err != nil {
			_ = closer()
			return nil, err
		}
		b.fieldbus = s
		b.closeFieldbus = closer
		src = s

	default:
		src = telemetry.Static{Value: cfg.Telemetry.Static.Status()}
	}

	b.Manager = peripherals.NewManager(b.Machine, peripherals.Options{
		IRQLine: machine.SPI1IRQ,
		Log:     b.Log,
		Source:  src,
	})
	b.Machine.Mount(machine.ManagerBase, machine.ManagerSize, b.Manager)

	b.Runner = script.NewRunner(b.Machine)
	b.Runner.SetPaced(cfg.Run.Paced)
	return b, nil
}

// Start launches background work (the fieldbus poller) until ctx is done.
// The first poll runs synchronously so the supervisor has data from the start.
func (b *Board) Start(ctx context.Context) {
	if b.fieldbus == nil {
		return
	}
	if err := b.fieldbus.PollOnce(); err != nil {
		b.Log.Logf("fieldbus", "initial poll: %v", err)
	}
	go b.fieldbus.Run(ctx)
}

// Close releases the fieldbus connection.
func (b *Board) Close() error {
	if b.closeFieldbus == nil {
		return nil
	}
	err := b.closeFieldbus()
	b.closeFieldbus = nil
	return err
}

// RunScript runs a firmware script. A guest exit is returned as
// *script.ExitError.
func (b *Board) RunScript(ctx context.Context, path string) error {
	return b.Runner.RunFile(ctx, path)
}

// Hibernate writes a snapshot of the whole board.
func (b *Board) Hibernate(path string) error {
	if err := b.Machine.HibernateToFile(path); err != nil {
		return fmt.Errorf("hibernate %s: %w", path, err)
	}
	b.Log.Logf("board", "hibernated to %s at %dms", path, b.Machine.Clock().NowMs())
	return nil
}

// Restore loads a snapshot taken by Hibernate on a board with the same RAM size.
func (b *Board) Restore(path string) error {
	if err := b.Machine.RestoreFromFile(path); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	b.Log.Logf("board", "restored %s at %dms", path, b.Machine.Clock().NowMs())
	return nil
}
