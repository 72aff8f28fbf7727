package core

// Listener is the device control logic observing the Core. Every callback runs
// synchronously, outside the Core lock, after the change it reports has been
// committed. Implementations may call back into the Core.
type Listener interface {
	OnSpeedMultiplierChanged(v float64)
	OnCurrentPatternChanged(pattern int)
	OnAutoModeChanged(auto bool)
	OnRunStateChanged(running bool)
	// OnCommandReceived gets the trimmed, uppercased token and the payload as
	// it arrived on the wire.
	OnCommandReceived(token, raw string)
	// OnPatternScriptReceived takes ownership of script. slot is -1 when the
	// client did not name one.
	OnPatternScriptReceived(script []byte, slot int)
	OnPatternScriptStatus(msg string)
	OnWiFiCredentialsReceived(ssid, password string)
	OnLedEffectChanged(effect uint8)
	OnLedColorChanged(c RGB)
	OnLedBrightnessChanged(brightness uint8)
}

// NopListener ignores every callback. Embed it to implement only the
// callbacks you care about.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) OnSpeedMultiplierChanged(float64) {}
func (NopListener) OnCurrentPatternChanged(int) {}
func (NopListener) OnAutoModeChanged(bool) {}
func (NopListener) OnRunStateChanged(bool) {}
func (NopListener) OnCommandReceived(string, string) {}
func (NopListener) OnPatternScriptReceived([]byte, int) {}
func (NopListener) OnPatternScriptStatus(string) {}
func (NopListener) OnWiFiCredentialsReceived(string, string) {}
func (NopListener) OnLedEffectChanged(uint8) {}
func (NopListener) OnLedColorChanged(RGB) {}
func (NopListener) OnLedBrightnessChanged(uint8) {}
