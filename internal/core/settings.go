package core

import (
	"fmt"
	"math"
)

const (
	// MinSpeedMultiplier is what non-positive speeds are clamped to.
	MinSpeedMultiplier = 0.01
	// speedEpsilon is the smallest speed change that counts as a change.
	speedEpsilon = 1e-4
)

// RGB is a solid LED color.
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// State is a point-in-time copy of every scalar setting.
type State struct {
	SpeedMultiplier float64
	Pattern         int
	AutoMode        bool
	Running         bool
	LedEffect       uint8
	LedColor        RGB
	LedBrightness   uint8
}

// DefaultState is the power-on configuration.
func DefaultState() State {
	return State{
		SpeedMultiplier: 1.0,
		Pattern:         1,
		AutoMode:        true,
		Running:         false,
		LedEffect:       0,
		LedColor:        RGB{R: 255, G: 255, B: 255},
		LedBrightness:   100,
	}
}

// setting is one value of the store. set reports whether the value changed.
type setting[T any] struct {
	v     T
	equal func(a, b T) bool
}

func newSetting[T comparable](v T) setting[T] {
	return setting[T]{v: v, equal: func(a, b T) bool { return a == b }}
}

func (s *setting[T]) get() T { return s.v }

func (s *setting[T]) set(v T) bool {
	if s.equal(s.v, v) {
		return false
	}
	s.v = v
	return true
}

// settings holds the scalar configuration. It is not safe for concurrent use;
// the Core serializes access.
type settings struct {
	speed      setting[float64]
	pattern    setting[int]
	autoMode   setting[bool]
	running    setting[bool]
	effect     setting[uint8]
	color      setting[RGB]
	brightness setting[uint8]

	numEffects int
}

func newSettings(initial State, numEffects int) *settings {
	s := &settings{
		speed:      newSetting(initial.SpeedMultiplier),
		pattern:    newSetting(initial.Pattern),
		autoMode:   newSetting(initial.AutoMode),
		running:    newSetting(initial.Running),
		effect:     newSetting(initial.LedEffect),
		color:      newSetting(initial.LedColor),
		brightness: newSetting(initial.LedBrightness),
		numEffects: numEffects,
	}
	s.speed.equal = func(a, b float64) bool { return math.Abs(a-b) < speedEpsilon }
	return s
}

func (s *settings) snapshot() State {
	return State{
		SpeedMultiplier: s.speed.get(),
		Pattern:         s.pattern.get(),
		AutoMode:        s.autoMode.get(),
		Running:         s.running.get(),
		LedEffect:       s.effect.get(),
		LedColor:        s.color.get(),
		LedBrightness:   s.brightness.get(),
	}
}

// setSpeed clamps non-positive values to MinSpeedMultiplier.
func (s *settings) setSpeed(v float64) (bool, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false, validationErrorf("Invalid speed value")
	}
	if v <= 0 {
		v = MinSpeedMultiplier
	}
	return s.speed.set(v), nil
}

// setPattern clamps patterns below 1 to 1.
func (s *settings) setPattern(p int) bool {
	if p < 1 {
		p = 1
	}
	return s.pattern.set(p)
}

func (s *settings) setEffect(e uint8) (bool, error) {
	if int(e) >= s.numEffects {
		return false, validationErrorf("Invalid effect value")
	}
	return s.effect.set(e), nil
}
