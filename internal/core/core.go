// Package core holds the Sand Garden configuration state shared by the BLE and
// HTTP transports: the scalar settings, the SandScript upload state machine,
// and fan-out of changes to the listener and to transport observers.
package core

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/syncutil"
)

const (
	DefaultMaxScriptLength  = 8192
	DefaultLedEffects       = 14
	DefaultScriptTimeout    = 5 * time.Second
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultTickInterval     = 250 * time.Millisecond
)

// Options configures a Core. Zero fields take the defaults.
type Options struct {
	MaxScriptLength  int           // largest accepted SandScript in bytes
	LedEffects       int           // number of LED effects; valid ids are [0, LedEffects)
	ScriptTimeout    time.Duration // idle time before an upload is dropped
	ProgressInterval time.Duration // minimum spacing of RECV progress lines
	TickInterval     time.Duration // period of Run's timeout polling
	Initial          *State        // power-on settings, DefaultState() if nil
	Clock            clockwork.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxScriptLength:  DefaultMaxScriptLength,
		LedEffects:       DefaultLedEffects,
		ScriptTimeout:    DefaultScriptTimeout,
		ProgressInterval: DefaultProgressInterval,
		TickInterval:     DefaultTickInterval,
		Clock:            clockwork.NewRealClock(),
	}
}

// Core owns the settings and the upload session. All transitions are
// serialized; listener callbacks and observer broadcasts run after the lock
// is released, in the order the transitions committed.
type Core struct {
	listener     Listener
	clock        clockwork.Clock
	tickInterval time.Duration

	mu           syncutil.Mutex
	settings     *settings
	transfer     *Transfer
	wifiSSID     string
	wifiPassword string
	observers    []Observer

	pending  []func()
	draining bool
}

// New creates a Core reporting to listener. A nil listener is replaced by
// NopListener.
func New(listener Listener, opts Options) *Core {
	def := DefaultOptions()
	if opts.MaxScriptLength <= 0 {
		opts.MaxScriptLength = def.MaxScriptLength
	}
	if opts.LedEffects <= 0 {
		opts.LedEffects = def.LedEffects
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = def.ScriptTimeout
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	initial := DefaultState()
	if opts.Initial != nil {
		initial = *opts.Initial
	}
	if listener == nil {
		listener = NopListener{}
	}

	return &Core{
		listener:     listener,
		clock:        opts.Clock,
		tickInterval: opts.TickInterval,
		settings:     newSettings(initial, opts.LedEffects),
		transfer:     NewTransfer(opts.MaxScriptLength, opts.ScriptTimeout, opts.ProgressInterval),
	}
}

// AddObserver registers o for every subsequent event.
func (c *Core) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Copy on write: queued effects keep the slice they captured.
	obs := make([]Observer, 0, len(c.observers)+1)
	obs = append(obs, c.observers...)
	c.observers = append(obs, o)
}

// Apply validates and commits cmd. Rejected commands return a *Error.
// Safe for concurrent use, including from inside listener callbacks.
func (c *Core) Apply(cmd Command) (Result, error) {
	var res Result
	err := c.transition(func(fx *effects) error {
		var err error
		res, err = cmd.apply(c, fx)
		return err
	})
	return res, err
}

// Tick expires an idle upload and publishes throttled progress. Run calls it
// periodically; transports without a loop of their own may call it directly.
func (c *Core) Tick() {
	_ = c.transition(func(fx *effects) error {
		fx.scriptStatus(c.transfer.Poll(c.clock.Now()))
		return nil
	})
}

// Run calls Tick every tick interval until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			c.Tick()
		}
	}
}

// NotifyStatus broadcasts a device-originated status line.
func (c *Core) NotifyStatus(msg string) {
	c.notify(EventStatus, msg)
}

// NotifyTelemetry broadcasts a telemetry line.
func (c *Core) NotifyTelemetry(msg string) {
	c.notify(EventTelemetry, msg)
}

// NotifyWiFiStatus broadcasts the WiFi association state (BLE only).
func (c *Core) NotifyWiFiStatus(msg string) {
	c.notify(EventWiFiStatus, msg)
}

func (c *Core) notify(kind EventKind, msg string) {
	_ = c.transition(func(fx *effects) error {
		fx.broadcast(Event{Kind: kind, State: c.settings.snapshot(), Message: msg})
		return nil
	})
}

// Snapshot returns the current settings.
func (c *Core) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.snapshot()
}

// SpeedMultiplier returns the current speed multiplier.
func (c *Core) SpeedMultiplier() float64 { return c.Snapshot().SpeedMultiplier }

// CurrentPattern returns the selected pattern number.
func (c *Core) CurrentPattern() int { return c.Snapshot().Pattern }

// AutoMode reports whether patterns advance automatically.
func (c *Core) AutoMode() bool { return c.Snapshot().AutoMode }

// RunState reports whether the table is running.
func (c *Core) RunState() bool { return c.Snapshot().Running }

// LedEffect returns the selected LED effect id.
func (c *Core) LedEffect() uint8 { return c.Snapshot().LedEffect }

// LedColor returns the LED color.
func (c *Core) LedColor() RGB { return c.Snapshot().LedColor }

// LedBrightness returns the LED brightness.
func (c *Core) LedBrightness() uint8 { return c.Snapshot().LedBrightness }

// LedEffects returns the number of valid LED effects.
func (c *Core) LedEffects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.numEffects
}

// MaxScriptLength returns the largest accepted SandScript in bytes.
func (c *Core) MaxScriptLength() int {
	return c.transfer.maxLength
}

// TransferProgress reports the open upload, if any.
func (c *Core) TransferProgress() (active bool, received, expected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	received, expected = c.transfer.Progress()
	return c.transfer.Active(), received, expected
}

// WiFiSSID returns the last SSID written by a client.
func (c *Core) WiFiSSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wifiSSID
}

// credentialsMaybeComplete hands the credentials over once both halves are
// present. Caller holds mu.
func (c *Core) credentialsMaybeComplete(fx *effects) {
	if c.wifiSSID == "" || c.wifiPassword == "" {
		return
	}
	ssid, password := c.wifiSSID, c.wifiPassword
	fx.listen(func(l Listener) { l.OnWiFiCredentialsReceived(ssid, password) })
}

// transition runs fn under the lock, then delivers the effects it queued.
// Only one goroutine delivers at a time; effects queued meanwhile, including
// by nested Apply calls from callbacks, are delivered by that goroutine in
// commit order.
func (c *Core) transition(fn func(fx *effects) error) error {
	c.mu.Lock()
	fx := effects{listener: c.listener, observers: c.observers}
	err := fn(&fx)
	c.pending = append(c.pending, fx.queue...)
	if c.draining {
		c.mu.Unlock()
		return err
	}
	c.draining = true
	done := false
	defer func() {
		if done {
			return
		}
		// A callback panicked with mu released. Hand delivery back so later
		// transitions, which also flush what is still queued, are not starved.
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, f := range batch {
			f()
		}
		c.mu.Lock()
	}
	c.draining = false
	done = true
	c.mu.Unlock()
	return err
}

// effects collects the callbacks and broadcasts of one transition.
type effects struct {
	listener  Listener
	observers []Observer
	queue     []func()
}

func (fx *effects) listen(call func(l Listener)) {
	l := fx.listener
	fx.queue = append(fx.queue, func() { call(l) })
}

func (fx *effects) broadcast(ev Event) {
	obs := fx.observers
	fx.queue = append(fx.queue, func() {
		for _, o := range obs {
			o.Broadcast(ev)
		}
	})
}

// changed reports a committed setting change: listener first, then observers.
func (fx *effects) changed(kind EventKind, st State, call func(l Listener)) {
	fx.listen(call)
	fx.broadcast(Event{Kind: kind, State: st})
}

// status broadcasts a status line without involving the listener.
func (fx *effects) status(msg string) {
	fx.broadcast(Event{Kind: EventStatus, Message: msg})
}

// scriptStatus broadcasts upload status lines and passes them to the
// listener.
func (fx *effects) scriptStatus(msgs []string) {
	for _, msg := range msgs {
		fx.status(msg)
		fx.listen(func(l Listener) { l.OnPatternScriptStatus(msg) })
	}
}
