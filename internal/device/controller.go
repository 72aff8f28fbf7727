// Package device is the daemon's control logic: it reacts to committed
// setting changes, answers generic commands and keeps received scripts.
package device

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/core"
	"github.com/chaz8081/sandgarden/internal/scriptstore"
	"github.com/chaz8081/sandgarden/internal/syncutil"
)

// Commands understood by the controller. Other tokens are logged and
// ignored.
const (
	CommandStop     = "STOP"
	CommandHome     = "HOME"
	CommandSelfTest = "SELFTEST"
)

// Controller implements core.Listener. Bind must be called before the core
// delivers callbacks that need to act on it.
type Controller struct {
	store   *scriptstore.Store
	clock   clockwork.Clock
	started time.Time

	mu       syncutil.Mutex
	core     *core.Core
	wifiSSID string
	scripts  int
}

var _ core.Listener = (*Controller)(nil)

// New creates a Controller. store may be nil, in which case scripts are
// only logged. A nil clock uses the real clock.
func New(store *scriptstore.Store, clock clockwork.Clock) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		store:   store,
		clock:   clock,
		started: clock.Now(),
	}
}

// Bind attaches the core the controller drives.
func (d *Controller) Bind(c *core.Core) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.core = c
}

func (d *Controller) bound() *core.Core {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.core
}

// WiFiSSID returns the SSID of the last complete credential pair.
func (d *Controller) WiFiSSID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wifiSSID
}

// ScriptsReceived returns how many scripts arrived since start.
func (d *Controller) ScriptsReceived() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scripts
}

func (d *Controller) OnSpeedMultiplierChanged(v float64) {
	slog.Info("[DEVICE] speed changed", "multiplier", v)
}

func (d *Controller) OnCurrentPatternChanged(pattern int) {
	slog.Info("[DEVICE] pattern changed", "pattern", pattern)
}

func (d *Controller) OnAutoModeChanged(auto bool) {
	slog.Info("[DEVICE] auto mode changed", "auto", auto)
}

func (d *Controller) OnRunStateChanged(running bool) {
	slog.Info("[DEVICE] run state changed", "running", running)
}

func (d *Controller) OnLedEffectChanged(effect uint8) {
	slog.Info("[DEVICE] LED effect changed", "effect", effect)
}

func (d *Controller) OnLedColorChanged(c core.RGB) {
	slog.Info("[DEVICE] LED color changed", "color", c.String())
}

func (d *Controller) OnLedBrightnessChanged(brightness uint8) {
	slog.Info("[DEVICE] LED brightness changed", "brightness", brightness)
}

func (d *Controller) OnPatternScriptStatus(msg string) {
	slog.Debug("[DEVICE] script status", "status", msg)
}

// OnCommandReceived handles STOP, HOME and SELFTEST.
func (d *Controller) OnCommandReceived(token, raw string) {
	c := d.bound()
	if c == nil {
		slog.Warn("[DEVICE] command before bind", "command", token)
		return
	}

	switch token {
	case CommandStop:
		slog.Info("[DEVICE] stop requested")
		d.apply(c, core.SetRunState{Value: false})
	case CommandHome:
		slog.Info("[DEVICE] home requested")
		d.apply(c, core.SetRunState{Value: false})
		d.apply(c, core.SetAutoMode{Value: false})
	case CommandSelfTest:
		c.NotifyTelemetry(d.selfTest(c))
	default:
		slog.Info("[DEVICE] unhandled command", "command", token, "raw", raw)
	}
}

func (d *Controller) apply(c *core.Core, cmd core.Command) {
	if _, err := c.Apply(cmd); err != nil {
		slog.Error("[DEVICE] apply failed", "command", fmt.Sprintf("%T", cmd), "error", err)
	}
}

func (d *Controller) selfTest(c *core.Core) string {
	st := c.Snapshot()
	d.mu.Lock()
	scripts := d.scripts
	d.mu.Unlock()
	uptime := d.clock.Since(d.started).Truncate(time.Second)
	return fmt.Sprintf("SELFTEST ok uptime=%s speed=%.2f pattern=%d auto=%t run=%t scripts=%d",
		uptime, st.SpeedMultiplier, st.Pattern, st.AutoMode, st.Running, scripts)
}

// OnPatternScriptReceived saves the script to its slot.
func (d *Controller) OnPatternScriptReceived(script []byte, slot int) {
	d.mu.Lock()
	d.scripts++
	d.mu.Unlock()

	slog.Info("[DEVICE] script received", "bytes", len(script), "slot", slot)
	if d.store == nil {
		return
	}
	e, err := d.store.Save(script, slot)
	if err != nil {
		slog.Error("[DEVICE] saving script", "slot", slot, "error", err)
		if c := d.bound(); c != nil {
			c.NotifyStatus(fmt.Sprintf("[STORE] ERR slot=%d", slot))
		}
		return
	}
	slog.Info("[DEVICE] script saved", "file", e.File, "digest", e.Digest[:16])
}

// OnWiFiCredentialsReceived records the SSID and reports receipt on the
// WiFi status channel. Association itself is left to the platform.
func (d *Controller) OnWiFiCredentialsReceived(ssid, password string) {
	d.mu.Lock()
	d.wifiSSID = ssid
	d.mu.Unlock()

	slog.Info("[DEVICE] WiFi credentials received", "ssid", ssid, "password_len", len(password))
	if c := d.bound(); c != nil {
		c.NotifyWiFiStatus("Credentials received: " + ssid)
	}
}
