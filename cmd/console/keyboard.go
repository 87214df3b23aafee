package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"vexsim/pkg/telemetry"
)

// Keyboard layout for joystick 0:
//
//	w/s  axis 1 (left stick Y)    i/k  axis 2 (right stick Y)
//	a/d  axis 0 (left stick X)    j/l  axis 3 (right stick X)
//	1-4  buttons56 bits 0-3       5-8  buttons78 bits 0-3 (toggle)
//	space  centre all axes        q / Ctrl-C  quit
const axisStep = 32

type axisKey struct {
	axis  int
	delta int
}

var axisKeys = map[byte]axisKey{
	'a': {0, -axisStep}, 'd': {0, axisStep},
	'w': {1, -axisStep}, 's': {1, axisStep},
	'i': {2, -axisStep}, 'k': {2, axisStep},
	'j': {3, -axisStep}, 'l': {3, axisStep},
}

// applyKey updates pad for one key press. It reports whether the key asks
// to quit.
func applyKey(pad *telemetry.Pad, b byte) (quit bool) {
	switch {
	case b == 'q' || b == 0x03:
		return true

	case b == ' ':
		for a := 0; a < telemetry.AxisCount; a++ {
			_ = pad.SetAxis(0, a, telemetry.AxisCenter)
		}

	case b >= '1' && b <= '8':
		n := uint(b - '1')
		bank := telemetry.Bank56
		if n >= 4 {
			bank = telemetry.Bank78
			n -= 4
		}
		st := pad.Snapshot()
		cur := st.Joysticks[0].Buttons56
		if bank == telemetry.Bank78 {
			cur = st.Joysticks[0].Buttons78
		}
		_ = pad.SetButton(0, bank, n, cur&(1<<n) == 0)

	default:
		k, ok := axisKeys[b]
		if !ok {
			return false
		}
		v := int(pad.Snapshot().Joysticks[0].Axis[k.axis]) + k.delta
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		_ = pad.SetAxis(0, k.axis, uint8(v))
	}
	return false
}

// KeyboardHost reads raw stdin and feeds key presses into a Pad.
type KeyboardHost struct {
	pad          *telemetry.Pad
	quit         func()
	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once
	fd           int
	oldTermState *term.State
}

func NewKeyboardHost(pad *telemetry.Pad, quit func()) *KeyboardHost {
	return &KeyboardHost{
		pad:    pad,
		quit:   quit,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start sets stdin to raw mode and begins reading in a goroutine.
// Call Stop() to restore stdin.
func (h *KeyboardHost) Start() error {
	h.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(h.done)
		return fmt.Errorf("keyboard: failed to set raw mode: %w", err)
	}
	h.oldTermState = oldState

	go func() {
		defer close(h.done)
		buf := make([]byte, 1)

		for {
			select {
			case <-h.stopCh:
				return
			default:
			}

			n, err := os.Stdin.Read(buf)
			if n > 0 && applyKey(h.pad, buf[0]) {
				h.quit()
				return
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return nil
}

// Stop restores the terminal. The reader goroutine exits on the next key or
// at process exit.
func (h *KeyboardHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}

// crlfWriter turns LF into CRLF; raw mode disables the terminal's own
// translation.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
