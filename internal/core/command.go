package core

import "strings"

// Command is a typed request decoded by a transport. The set is closed; use
// the types below.
type Command interface {
	apply(c *Core, fx *effects) (Result, error)
}

// Result reports the outcome of an accepted command.
type Result struct {
	// Changed is false when the command was accepted but left the setting or
	// session untouched, e.g. writing the current speed again.
	Changed bool
}

type (
	SetSpeed         struct{ Value float64 }
	SetPattern       struct{ Value int }
	SetAutoMode      struct{ Value bool }
	SetRunState      struct{ Value bool }
	SetLedEffect     struct{ Value uint8 }
	SetLedColor      struct{ Color RGB }
	SetLedBrightness struct{ Value uint8 }
	SetWiFiSSID      struct{ Value string }
	SetWiFiPassword  struct{ Value string }

	// GenericCommand carries a free-form token such as "SELFTEST". Its
	// meaning belongs to the listener.
	GenericCommand struct{ Raw string }

	// ScriptBegin opens an upload of Length bytes into Slot (NoSlot if unset).
	ScriptBegin struct {
		Length int
		Slot   int
	}
	ScriptChunk struct{ Data []byte }
	ScriptEnd   struct{}
	// ScriptReset aborts the open upload. An empty Reason reports "abort".
	ScriptReset struct{ Reason string }
)

func (cmd SetSpeed) apply(c *Core, fx *effects) (Result, error) {
	changed, err := c.settings.setSpeed(cmd.Value)
	if err != nil || !changed {
		return Result{}, err
	}
	st := c.settings.snapshot()
	fx.changed(EventSpeed, st, func(l Listener) { l.OnSpeedMultiplierChanged(st.SpeedMultiplier) })
	return Result{Changed: true}, nil
}

func (cmd SetPattern) apply(c *Core, fx *effects) (Result, error) {
	if !c.settings.setPattern(cmd.Value) {
		return Result{}, nil
	}
	st := c.settings.snapshot()
	fx.changed(EventPattern, st, func(l Listener) { l.OnCurrentPatternChanged(st.Pattern) })
	return Result{Changed: true}, nil
}

func (cmd SetAutoMode) apply(c *Core, fx *effects) (Result, error) {
	if !c.settings.autoMode.set(cmd.Value) {
		return Result{}, nil
	}
	st := c.settings.snapshot()
	fx.changed(EventMode, st, func(l Listener) { l.OnAutoModeChanged(st.AutoMode) })
	return Result{Changed: true}, nil
}

func (cmd SetRunState) apply(c *Core, fx *effects) (Result, error) {
	if !c.settings.running.set(cmd.Value) {
		return Result{}, nil
	}
	st := c.settings.snapshot()
	fx.changed(EventRun, st, func(l Listener) { l.OnRunStateChanged(st.Running) })
	return Result{Changed: true}, nil
}

func (cmd SetLedEffect) apply(c *Core, fx *effects) (Result, error) {
	changed, err := c.settings.setEffect(cmd.Value)
	if err != nil || !changed {
		return Result{}, err
	}
	st := c.settings.snapshot()
	fx.changed(EventLedEffect, st, func(l Listener) { l.OnLedEffectChanged(st.LedEffect) })
	return Result{Changed: true}, nil
}

func (cmd SetLedColor) apply(c *Core, fx *effects) (Result, error) {
	if !c.settings.color.set(cmd.Color) {
		return Result{}, nil
	}
	st := c.settings.snapshot()
	fx.changed(EventLedColor, st, func(l Listener) { l.OnLedColorChanged(st.LedColor) })
	return Result{Changed: true}, nil
}

func (cmd SetLedBrightness) apply(c *Core, fx *effects) (Result, error) {
	if !c.settings.brightness.set(cmd.Value) {
		return Result{}, nil
	}
	st := c.settings.snapshot()
	fx.changed(EventLedBrightness, st, func(l Listener) { l.OnLedBrightnessChanged(st.LedBrightness) })
	return Result{Changed: true}, nil
}

func (cmd SetWiFiSSID) apply(c *Core, fx *effects) (Result, error) {
	changed := c.wifiSSID != cmd.Value
	c.wifiSSID = cmd.Value
	c.credentialsMaybeComplete(fx)
	return Result{Changed: changed}, nil
}

func (cmd SetWiFiPassword) apply(c *Core, fx *effects) (Result, error) {
	changed := c.wifiPassword != cmd.Value
	c.wifiPassword = cmd.Value
	c.credentialsMaybeComplete(fx)
	return Result{Changed: changed}, nil
}

func (cmd GenericCommand) apply(_ *Core, fx *effects) (Result, error) {
	token := strings.ToUpper(strings.TrimSpace(cmd.Raw))
	if token == "" {
		return Result{}, validationErrorf("Missing command")
	}
	raw := cmd.Raw
	fx.status("[CMD] RX " + token)
	fx.listen(func(l Listener) { l.OnCommandReceived(token, raw) })
	return Result{}, nil
}

func (cmd ScriptBegin) apply(c *Core, fx *effects) (Result, error) {
	status, err := c.transfer.Begin(cmd.Length, cmd.Slot, c.clock.Now())
	fx.scriptStatus(status)
	if err != nil {
		return Result{}, err
	}
	return Result{Changed: true}, nil
}

func (cmd ScriptChunk) apply(c *Core, fx *effects) (Result, error) {
	status, err := c.transfer.Chunk(cmd.Data, c.clock.Now())
	fx.scriptStatus(status)
	if err != nil {
		return Result{}, err
	}
	return Result{Changed: len(cmd.Data) > 0}, nil
}

func (ScriptEnd) apply(c *Core, fx *effects) (Result, error) {
	script, status, err := c.transfer.End()
	fx.scriptStatus(status)
	if err != nil {
		return Result{}, err
	}
	fx.listen(func(l Listener) { l.OnPatternScriptReceived(script.Data, script.Slot) })
	return Result{Changed: true}, nil
}

func (cmd ScriptReset) apply(c *Core, fx *effects) (Result, error) {
	reason := cmd.Reason
	if reason == "" {
		reason = ReasonAbort
	}
	wasActive := c.transfer.Active()
	fx.scriptStatus(c.transfer.Reset(reason, true))
	return Result{Changed: wasActive}, nil
}
