package main

import (
	"github.com/hajimehoshi/ebiten/v2"

	"vexsim/pkg/telemetry"
)

// Standard gamepad axes in joystick axis order.
var gamepadAxes = [4]ebiten.StandardGamepadAxis{
	ebiten.StandardGamepadAxisLeftStickHorizontal,
	ebiten.StandardGamepadAxisLeftStickVertical,
	ebiten.StandardGamepadAxisRightStickVertical,
	ebiten.StandardGamepadAxisRightStickHorizontal,
}

type buttonBit struct {
	button ebiten.StandardGamepadButton
	bank   int
	bit    uint
}

var gamepadButtons = []buttonBit{
	{ebiten.StandardGamepadButtonFrontTopLeft, telemetry.Bank56, 0},
	{ebiten.StandardGamepadButtonFrontBottomLeft, telemetry.Bank56, 1},
	{ebiten.StandardGamepadButtonFrontTopRight, telemetry.Bank56, 2},
	{ebiten.StandardGamepadButtonFrontBottomRight, telemetry.Bank56, 3},
	{ebiten.StandardGamepadButtonLeftBottom, telemetry.Bank78, 0},
	{ebiten.StandardGamepadButtonLeftLeft, telemetry.Bank78, 1},
	{ebiten.StandardGamepadButtonLeftTop, telemetry.Bank78, 2},
	{ebiten.StandardGamepadButtonLeftRight, telemetry.Bank78, 3},
	{ebiten.StandardGamepadButtonRightBottom, telemetry.Bank78, 4},
	{ebiten.StandardGamepadButtonRightRight, telemetry.Bank78, 5},
	{ebiten.StandardGamepadButtonRightTop, telemetry.Bank78, 6},
	{ebiten.StandardGamepadButtonRightLeft, telemetry.Bank78, 7},
}

// keyAxes drive joystick 0 from the keyboard when no gamepad is attached.
var keyAxes = [4][2]ebiten.Key{
	{ebiten.KeyA, ebiten.KeyD},
	{ebiten.KeyW, ebiten.KeyS},
	{ebiten.KeyI, ebiten.KeyK},
	{ebiten.KeyJ, ebiten.KeyL},
}

// pollInput copies the first two gamepads (or the keyboard) into pad.
func pollInput(pad *telemetry.Pad, ids []ebiten.GamepadID) {
	n := 0
	for _, id := range ids {
		if n == telemetry.JoystickCount {
			break
		}
		if !ebiten.IsStandardGamepadLayoutAvailable(id) {
			continue
		}
		for a, axis := range gamepadAxes {
			_ = pad.SetAxis(n, a, axisByte(ebiten.StandardGamepadAxisValue(id, axis)))
		}
		for _, b := range gamepadButtons {
			_ = pad.SetButton(n, b.bank, b.bit, ebiten.IsStandardGamepadButtonPressed(id, b.button))
		}
		n++
	}
	if n > 0 {
		return
	}

	for a, keys := range keyAxes {
		v := 0.0
		if ebiten.IsKeyPressed(keys[0]) {
			v--
		}
		if ebiten.IsKeyPressed(keys[1]) {
			v++
		}
		_ = pad.SetAxis(0, a, axisByte(v))
	}
}
