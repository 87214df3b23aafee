package main

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"vexsim/pkg/board"
	"vexsim/pkg/machine"
	"vexsim/pkg/peripherals"
	"vexsim/pkg/telemetry"
)

const (
	screenWidth  = 640
	screenHeight = 480
	lineHeight   = 15
	margin       = 8
	logLines     = 8
	serialLines  = 6
)

var (
	labelColor = color.RGBA{0x9a, 0xa4, 0xb1, 0xff}
	valueColor = color.RGBA{0xe8, 0xe8, 0xe8, 0xff}
	okColor    = color.RGBA{0x5f, 0xd0, 0x6f, 0xff}
	warnColor  = color.RGBA{0xe0, 0xb0, 0x40, 0xff}
)

// serialTail keeps the last lines written to the guest UART.
type serialTail struct {
	mu    sync.Mutex
	lines []string
	cur   bytes.Buffer
	max   int
}

func newSerialTail(max int) *serialTail {
	return &serialTail{max: max}
}

func (s *serialTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			s.push(s.cur.String())
			s.cur.Reset()
			continue
		}
		s.cur.WriteByte(b)
	}
	return len(p), nil
}

func (s *serialTail) push(line string) {
	s.lines = append(s.lines, line)
	if len(s.lines) > s.max {
		s.lines = s.lines[len(s.lines)-s.max:]
	}
}

// Lines returns the completed lines followed by the partial one, if any.
func (s *serialTail) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.lines...)
	if s.cur.Len() > 0 {
		out = append(out, s.cur.String())
	}
	if len(out) > s.max {
		out = out[len(out)-s.max:]
	}
	return out
}

// dashboard renders the board state as text lines.
type dashboard struct {
	b      *board.Board
	serial *serialTail
}

type line struct {
	label string
	value string
	c     color.Color
}

func (d *dashboard) lines(status string) []line {
	mgr := d.b.Manager
	m := d.b.Machine
	regs := mgr.Registers()

	state := mgr.SupervisorState()
	stateColor := warnColor
	if state == peripherals.SupervisorInitialized {
		stateColor = okColor
	}

	out := []line{
		{"firmware", status, valueColor},
		{"time", fmt.Sprintf("%d ms", m.Clock().NowMs()), valueColor},
		{"supervisor", fmt.Sprintf("%s  armed=%v  first sync=%v", state, mgr.Armed(), mgr.FirstSyncDone()), stateColor},
		{"robot", fmt.Sprintf("%q", mgr.RobotName()), valueColor},
		{"SPI1 IRQ", fmt.Sprintf("%d raised, pending=%v", m.InterruptCount(machine.SPI1IRQ), m.Pending(machine.SPI1IRQ)), valueColor},
		{"control", fmt.Sprintf("%08x (%s)", regs.Control, peripherals.DecodeCommand(regs.Control)), valueColor},
		{"args", fmt.Sprintf("%08x %08x %08x", regs.Arg1, regs.Arg2, regs.Arg3), valueColor},
		{"results", fmt.Sprintf("%08x %08x", regs.Result1, regs.Result2), valueColor},
	}

	st := mgr.Status()
	out = append(out, line{"status", fmt.Sprintf("game=%02x main=%02x backup=%02x", st.GameStatus, st.MainBattery, st.BackupBattery), valueColor})
	for j, js := range st.Joysticks {
		out = append(out, line{
			fmt.Sprintf("joystick %d", j),
			fmt.Sprintf("axes % 4d  btn %08b %08b", js.Axis, js.Buttons56, js.Buttons78),
			valueColor,
		})
	}
	return out
}

func (d *dashboard) Draw(screen *ebiten.Image, status string) {
	face := basicfont.Face7x13
	y := margin + lineHeight

	for _, l := range d.lines(status) {
		text.Draw(screen, l.label, face, margin, y, labelColor)
		text.Draw(screen, l.value, face, margin+96, y, l.c)
		y += lineHeight
	}

	y += lineHeight / 2
	text.Draw(screen, "serial", face, margin, y, labelColor)
	y += lineHeight
	for _, s := range d.serial.Lines() {
		text.Draw(screen, s, face, margin+16, y, valueColor)
		y += lineHeight
	}

	y += lineHeight / 2
	text.Draw(screen, "log", face, margin, y, labelColor)
	y += lineHeight
	var tail strings.Builder
	d.b.Log.Tail(&tail, logLines)
	for _, s := range strings.Split(strings.TrimRight(tail.String(), "\n"), "\n") {
		if y > screenHeight-margin {
			break
		}
		text.Draw(screen, s, face, margin+16, y, valueColor)
		y += lineHeight
	}
}

// axisByte maps a gamepad axis in [-1, 1] onto the 0..255 range the field
// link reports, with 0 at AxisCenter.
func axisByte(v float64) uint8 {
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	if v < 0 {
		return uint8(float64(telemetry.AxisCenter) * (1 + v))
	}
	return uint8(float64(telemetry.AxisCenter) + v*float64(255-telemetry.AxisCenter))
}
