// Package script runs guest firmware written in Lua against a machine. The
// firmware talks to the board only through MMIO, guest RAM and the interrupt
// latch, the same way compiled Cortex firmware would.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"vexsim/pkg/machine"
	"vexsim/pkg/peripherals"
)

// ExitError is returned by Run when the guest requested a system exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exited with code %d", e.Code)
}

// Runner executes firmware scripts on one machine. It installs itself as the
// machine's exit hook.
type Runner struct {
	m      *machine.Machine
	paced  bool
	exited bool
	code   int
}

func NewRunner(m *machine.Machine) *Runner {
	r := &Runner{m: m}
	m.SetExitHook(r.onExit)
	return r
}

// SetPaced makes advance() sleep in real time before moving the virtual clock.
func (r *Runner) SetPaced(paced bool) {
	r.paced = paced
}

func (r *Runner) onExit(code int) {
	r.exited = true
	r.code = code
}

// RunFile loads and runs a script from disk.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.run(ctx, path, string(src), filepath.Dir(path))
}

// Run executes src until it returns, fails, is cancelled through ctx or the
// guest exits.
func (r *Runner) Run(ctx context.Context, name, src string) error {
	return r.run(ctx, name, src, "")
}

// run executes src; when dir is set, require() also searches it.
func (r *Runner) run(ctx context.Context, name, src, dir string) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	r.install(L)
	r.exited = false

	if dir != "" {
		if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
			path := filepath.Join(dir, "?.lua") + ";" + lua.LVAsString(pkg.RawGetString("path"))
			pkg.RawSetString("path", lua.LString(path))
		}
	}

	fn, err := L.Load(strings.NewReader(src), name)
	if err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	L.Push(fn)
	err = L.PCall(0, lua.MultRet, nil)
	if r.exited {
		return &ExitError{Code: r.code}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("script %s: %w", name, err)
	}
	return nil
}

func (r *Runner) install(L *lua.LState) {
	L.SetGlobal("MGR_BASE", lua.LNumber(machine.ManagerBase))
	L.SetGlobal("MGR_IRQ", lua.LNumber(machine.SPI1IRQ))
	L.SetGlobal("RAM_BASE", lua.LNumber(machine.RAMBase))
	L.SetGlobal("RAM_SIZE", lua.LNumber(r.m.RAMSize()))

	funcs := map[string]lua.LGFunction{
		"mmio_read":   r.luaMMIORead,
		"mmio_write":  r.luaMMIOWrite,
		"mgr_call":    r.luaMgrCall,
		"poke":        r.luaPoke,
		"peek":        r.luaPeek,
		"poke32":      r.luaPoke32,
		"peek32":      r.luaPeek32,
		"advance":     r.luaAdvance,
		"now_ms":      r.luaNowMs,
		"irq_pending": r.luaIRQPending,
		"irq_ack":     r.luaIRQAck,
		"irq_count":   r.luaIRQCount,
		"sleep_paced": r.luaSleepPaced,
	}
	for name, fn := range funcs {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// Lua numbers are doubles; guest words are taken modulo 2^32 so that
// negative arguments reach the registers in two's complement.
func checkWord(L *lua.LState, n int) uint32 {
	return uint32(int64(L.CheckNumber(n)))
}

func optWord(L *lua.LState, n int) uint32 {
	return uint32(int64(L.OptNumber(n, 0)))
}

// stopIfExited unwinds the interpreter after a guest exit.
func (r *Runner) stopIfExited(L *lua.LState) {
	if r.exited {
		L.RaiseError("exit(%d)", r.code)
	}
}

func (r *Runner) luaMMIORead(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.Read(checkWord(L, 1), 4)))
	return 1
}

func (r *Runner) luaMMIOWrite(L *lua.LState) int {
	r.m.Write(checkWord(L, 1), checkWord(L, 2), 4)
	r.stopIfExited(L)
	return 0
}

// mgr_call(module, fn, a1, a2, a3) -> r1, r2
func (r *Runner) luaMgrCall(L *lua.LState) int {
	mod := L.CheckInt(1)
	fn := L.CheckInt(2)
	base := machine.ManagerBase

	r.m.Write(base+peripherals.RegArg1, optWord(L, 3), 4)
	r.m.Write(base+peripherals.RegArg2, optWord(L, 4), 4)
	r.m.Write(base+peripherals.RegArg3, optWord(L, 5), 4)
	cmd := peripherals.Command{Module: peripherals.Module(mod), Function: uint16(fn)}
	r.m.Write(base+peripherals.RegControl, cmd.Word(), 4)
	r.stopIfExited(L)

	L.Push(lua.LNumber(r.m.Read(base+peripherals.RegResult1, 4)))
	L.Push(lua.LNumber(r.m.Read(base+peripherals.RegResult2, 4)))
	return 2
}

func (r *Runner) luaPoke(L *lua.LState) int {
	if err := r.m.WriteGuest(checkWord(L, 1), []byte(L.CheckString(2))); err != nil {
		L.RaiseError("poke: %v", err)
	}
	return 0
}

func (r *Runner) luaPeek(L *lua.LState) int {
	data, err := r.m.ReadGuest(checkWord(L, 1), L.CheckInt(2))
	if err != nil {
		L.RaiseError("peek: %v", err)
	}
	L.Push(lua.LString(data))
	return 1
}

func (r *Runner) luaPoke32(L *lua.LState) int {
	if err := r.m.WriteWord(checkWord(L, 1), checkWord(L, 2)); err != nil {
		L.RaiseError("poke32: %v", err)
	}
	return 0
}

func (r *Runner) luaPeek32(L *lua.LState) int {
	v, err := r.m.ReadWord(checkWord(L, 1))
	if err != nil {
		L.RaiseError("peek32: %v", err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

// advance(ms) moves virtual time forward, firing due timers.
func (r *Runner) luaAdvance(L *lua.LState) int {
	ms := L.CheckNumber(1)
	if ms < 0 {
		L.ArgError(1, "negative duration")
	}
	d := time.Duration(float64(ms) * float64(time.Millisecond))

	if r.paced {
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			L.RaiseError("advance: %v", ctx.Err())
		case <-t.C:
		}
	}
	r.m.Clock().Advance(d)
	return 0
}

func (r *Runner) luaNowMs(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.Clock().NowMs()))
	return 1
}

func checkLine(L *lua.LState) int {
	line := L.CheckInt(1)
	if line < 0 || line >= machine.IRQLines {
		L.ArgError(1, "interrupt line out of range")
	}
	return line
}

func (r *Runner) luaIRQPending(L *lua.LState) int {
	L.Push(lua.LBool(r.m.Pending(checkLine(L))))
	return 1
}

func (r *Runner) luaIRQAck(L *lua.LState) int {
	r.m.Ack(checkLine(L))
	return 0
}

func (r *Runner) luaIRQCount(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.InterruptCount(checkLine(L))))
	return 1
}

func (r *Runner) luaSleepPaced(L *lua.LState) int {
	r.paced = L.ToBool(1)
	return 0
}
