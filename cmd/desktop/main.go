package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"vexsim/pkg/board"
	"vexsim/pkg/config"
	"vexsim/pkg/script"
	"vexsim/pkg/statsview"
	"vexsim/pkg/utils"
)

type Game struct {
	b    *board.Board
	dash *dashboard
	pads []ebiten.GamepadID

	mu       sync.Mutex
	status   string
	exited   bool
	exitCode int
}

func (g *Game) setStatus(s string) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

func (g *Game) Status() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// finish records how the firmware stopped.
func (g *Game) finish(err error) {
	var exit *script.ExitError
	switch {
	case err == nil:
		g.setStatus("returned")
	case errors.As(err, &exit):
		g.mu.Lock()
		g.exited = true
		g.exitCode = exit.Code
		g.mu.Unlock()
		g.setStatus(fmt.Sprintf("exit(%d)", exit.Code))
	case errors.Is(err, context.Canceled):
		g.setStatus("stopped")
	default:
		g.setStatus("error: " + err.Error())
	}
}

// ExitCode returns the code the guest passed to System exit, if it did.
func (g *Game) ExitCode() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitCode, g.exited
}

func (g *Game) Update() error {
	if _, ok := g.ExitCode(); ok {
		return ebiten.Termination
	}
	if g.b.Pad != nil {
		g.pads = ebiten.AppendGamepadIDs(g.pads[:0])
		pollInput(g.b.Pad, g.pads)
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	g.dash.Draw(screen, g.Status())
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

// newGame wires a board to the dashboard. Serial output goes to both the
// dashboard and out.
func newGame(b *board.Board, out io.Writer) *Game {
	serial := newSerialTail(serialLines)
	b.Machine.Output = io.MultiWriter(serial, out)
	return &Game{
		b:      b,
		dash:   &dashboard{b: b, serial: serial},
		status: "starting",
	}
}

func main() {
	configPath := flag.String("config", "", "board configuration (YAML)")
	stats := flag.Bool("statsview", false, "serve runtime charts on "+statsview.DefaultAddress)
	hibernate := flag.Bool("hibernate", false, "write <script>.zip when the window closes")
	restore := flag.Bool("restore", false, "resume from <script>.zip if it exists")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop [flags] <firmware.lua>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to open firmware: %v", err)
	}

	cfg, err := config.Open(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Telemetry.Source == config.SourceStatic {
		cfg.Telemetry.Source = config.SourcePad
	}
	cfg.Run.Paced = true

	b, err := board.New(cfg)
	if err != nil {
		log.Fatalf("Board setup failed: %v", err)
	}
	defer b.Close()

	snapshot := utils.SnapshotPath(fullPath)
	if *restore {
		if _, err := os.Stat(snapshot); err == nil {
			if err := b.Restore(snapshot); err != nil {
				log.Fatal(err)
			}
		}
	}
	if *stats {
		statsview.Launch(os.Stdout, statsview.DefaultAddress)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	game := newGame(b, os.Stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		game.setStatus("running " + fullPath)
		game.finish(b.RunScript(ctx, fullPath))
	}()

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("VEX Cortex")

	if err := ebiten.RunGame(game); err != nil {
		log.Print(err)
	}

	// Graceful shutdown: stop the firmware, then snapshot
	cancel()
	<-done
	if *hibernate {
		if err := b.Hibernate(snapshot); err != nil {
			log.Print(err)
		}
	}
	if code, ok := game.ExitCode(); ok {
		b.Close()
		os.Exit(code)
	}
}
