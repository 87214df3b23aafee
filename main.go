//go:build !js

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"vexsim/pkg/board"
	"vexsim/pkg/config"
	"vexsim/pkg/machine"
	"vexsim/pkg/script"
	"vexsim/pkg/telemetry"
	"vexsim/pkg/utils"
)

type CLI struct {
	Run     runCmd     `cmd:"" help:"run a firmware script on an emulated Cortex board"`
	Inspect inspectCmd `cmd:"" help:"dump a hibernation snapshot"`
	Layout  layoutCmd  `cmd:"" help:"print the supervisor status block layout"`
}

func newParser(cli *CLI, options ...kong.Option) *kong.Kong {
	options = append([]kong.Option{
		kong.Name("vexsim"),
		kong.Description("VEX Cortex manager block emulator."),
	}, options...)
	return kong.Must(cli, options...)
}

func main() {
	var cli CLI
	parser := newParser(&cli)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

type runCmd struct {
	Script    string `arg:"" help:"firmware script (Lua)"`
	Config    string `name:"config" type:"existingfile" help:"board configuration (YAML)"`
	Restore   string `name:"restore" type:"existingfile" help:"restore this snapshot before running"`
	Hibernate string `name:"hibernate" help:"write a snapshot here when the script stops"`
	Paced     bool   `name:"paced" help:"advance virtual time in real time"`
	Log       bool   `name:"log" help:"print the manager log when the script stops"`
}

func (r *runCmd) Run(ctx *kong.Context) error {
	fullPath, _, err := utils.GetPathInfo(r.Script)
	if err != nil {
		return err
	}

	cfg, err := config.Open(r.Config)
	if err != nil {
		return err
	}
	if r.Paced {
		cfg.Run.Paced = true
	}

	b, err := board.New(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if r.Restore != "" {
		if err := b.Restore(r.Restore); err != nil {
			return err
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	b.Start(runCtx)

	runErr := b.RunScript(runCtx, fullPath)

	if r.Log {
		b.Log.Write(ctx.Stderr)
	}
	if r.Hibernate != "" {
		if err := b.Hibernate(r.Hibernate); err != nil {
			return err
		}
	}

	var exit *script.ExitError
	if errors.As(runErr, &exit) {
		b.Close()
		stop()
		os.Exit(exit.Code)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

type inspectCmd struct {
	Snapshot string `arg:"" type:"existingfile" help:"snapshot written by run --hibernate"`
}

func (i *inspectCmd) Run(ctx *kong.Context) error {
	snap, err := machine.ReadSnapshotFile(i.Snapshot)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "snapshot %s at %v, %d bytes RAM\n", i.Snapshot, snap.Now, snap.RAMSize)
	fmt.Fprintf(ctx.Stdout, "mounted: %v\n", snap.Mounted)

	cfg := config.Default()
	cfg.Board.RAMSize = snap.RAMSize
	b, err := board.New(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Machine.RestoreFromFile(i.Snapshot); err != nil {
		return err
	}

	mgr := b.Manager
	fmt.Fprintf(ctx.Stdout, "supervisor: %s, armed=%v, first sync=%v, name=%q\n",
		mgr.SupervisorState(), mgr.Armed(), mgr.FirstSyncDone(), mgr.RobotName())
	fmt.Fprintf(ctx.Stdout, "SPI1 interrupts: %d (pending=%v)\n",
		b.Machine.InterruptCount(machine.SPI1IRQ), b.Machine.Pending(machine.SPI1IRQ))

	cs := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true}
	cs.Fdump(ctx.Stdout, mgr.Registers())
	cs.Fdump(ctx.Stdout, mgr.Status())
	return nil
}

type layoutCmd struct{}

func (l *layoutCmd) Run(ctx *kong.Context) error {
	w := tabwriter.NewWriter(ctx.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tFIELD")
	for _, f := range telemetry.Layout() {
		fmt.Fprintf(w, "%d\t%s\n", f.Offset, f.Name)
	}
	fmt.Fprintf(w, "\t(%d bytes)\n", telemetry.StatusSize)
	return w.Flush()
}
