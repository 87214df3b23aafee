package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"golang.org/x/term"

	"vexsim/pkg/board"
	"vexsim/pkg/config"
	"vexsim/pkg/script"
	"vexsim/pkg/statsview"
	"vexsim/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "board configuration (YAML)")
	stats := flag.Bool("statsview", false, "serve runtime charts on "+statsview.DefaultAddress)
	hibernate := flag.Bool("hibernate", false, "write <script>.zip when the script stops")
	restore := flag.Bool("restore", false, "resume from <script>.zip if it exists")
	showLog := flag.Bool("log", false, "print the manager log when the script stops")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: console [flags] <firmware.lua>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	fullPath, baseDir, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to open firmware: %v", err)
	}
	print("Firmware:", fullPath, "\n")
	print("Base directory:", baseDir, "\n")

	cfg, err := config.Open(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	// The console always drives joystick 0 from the keyboard and runs in
	// wall-clock time.
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	b.Start(ctx)

	var kb *KeyboardHost
	if b.Pad != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		kb = NewKeyboardHost(b.Pad, cancel)
		if err := kb.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			kb = nil
		} else {
			b.Machine.Output = crlfWriter{w: os.Stdout}
			fmt.Print("wasd/ijkl: sticks, 1-8: buttons, space: centre, q: quit\r\n")
		}
	}

	runErr := b.RunScript(ctx, fullPath)
	if kb != nil {
		kb.Stop()
		b.Machine.Output = os.Stdout
	}

	if *showLog {
		b.Log.Write(b.Machine.Output)
	}
	if *hibernate {
		if err := b.Hibernate(snapshot); err != nil {
			log.Print(err)
		}
	}

	var exit *script.ExitError
	switch {
	case errors.As(runErr, &exit):
		b.Close()
		os.Exit(exit.Code)
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		log.Print(runErr)
		b.Close()
		os.Exit(1)
	}
}
