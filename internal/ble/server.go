package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/ble/protocol"
	"github.com/chaz8081/sandgarden/internal/core"
	"github.com/chaz8081/sandgarden/internal/syncutil"
)

// ServerOptions configures the GATT server.
type ServerOptions struct {
	DeviceName     string        // advertised local name
	AdvertiseRetry time.Duration // minimum spacing of advertising restarts
	PollInterval   time.Duration // how often Run checks advertising
	Clock          clockwork.Clock
}

// DefaultServerOptions returns sensible defaults.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		DeviceName:     DefaultDeviceName,
		AdvertiseRetry: 2 * time.Second,
		PollInterval:   500 * time.Millisecond,
		Clock:          clockwork.NewRealClock(),
	}
}

// decodeFunc turns a characteristic write into a core command.
type decodeFunc func(value []byte) (core.Command, error)

// Server exposes a core.Core as the Sand Garden GATT service. It decodes
// characteristic writes into commands and mirrors core events back into
// characteristic values.
type Server struct {
	core   *core.Core
	periph Peripheral
	opts   ServerOptions

	// chars is written once by Start and only read afterwards.
	chars map[string]Notifier

	mu            syncutil.Mutex
	clients       map[string]struct{}
	advertising   bool
	lastAdvertise time.Time
}

// NewServer creates a server for c on p. Zero option fields take the
// defaults.
func NewServer(c *core.Core, p Peripheral, opts ServerOptions) *Server {
	def := DefaultServerOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}
	if opts.AdvertiseRetry <= 0 {
		opts.AdvertiseRetry = def.AdvertiseRetry
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &Server{
		core:    c,
		periph:  p,
		opts:    opts,
		clients: make(map[string]struct{}),
	}
}

// Start enables the adapter, registers the service, subscribes to core
// events and begins advertising.
func (s *Server) Start() error {
	if err := s.periph.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	chars, err := s.periph.AddService(ServiceUUID, s.characteristics(s.core.Snapshot()))
	if err != nil {
		return err
	}
	s.chars = chars

	s.periph.SetConnectHandler(s.handleConnect)
	s.core.AddObserver(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.advertiseLocked(); err != nil {
		return err
	}
	slog.Info("[BLE] advertising", "name", s.opts.DeviceName, "service", ServiceUUID)
	return nil
}

// Run restarts advertising after the last central leaves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ticker := s.opts.Clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.periph.StopAdvertising(); err != nil {
				slog.Debug("[BLE] stop advertising", "error", err)
			}
			return nil
		case <-ticker.Chan():
			s.maintainAdvertising()
		}
	}
}

// Clients returns the number of connected centrals.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast implements core.Observer.
func (s *Server) Broadcast(ev core.Event) {
	uuid, value, ok := render(ev)
	if !ok {
		return
	}
	s.publish(uuid, value)
}

func (s *Server) publish(uuid string, value []byte) {
	n, ok := s.chars[uuid]
	if !ok {
		return
	}
	if err := n.Notify(value); err != nil {
		slog.Debug("[BLE] notify failed", "char", charName(uuid), "error", err)
	}
}

func (s *Server) handleConnect(client string, connected bool) {
	s.mu.Lock()
	if connected {
		s.clients[client] = struct{}{}
		// Most stacks stop advertising once a central connects.
		s.advertising = false
	} else {
		delete(s.clients, client)
	}
	n := len(s.clients)
	s.mu.Unlock()

	if connected {
		slog.Info("[BLE] central connected", "client", client, "clients", n)
		s.core.NotifyStatus("[BLE] CONNECT conn=" + client)
		return
	}
	slog.Info("[BLE] central disconnected", "client", client, "clients", n)
	s.core.NotifyStatus("[BLE] DISCONNECT conn=" + client)
	s.maintainAdvertising()
}

// maintainAdvertising advertises again when nobody is connected, at most
// once per AdvertiseRetry.
func (s *Server) maintainAdvertising() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) > 0 || s.advertising {
		return
	}
	if !s.lastAdvertise.IsZero() && s.opts.Clock.Since(s.lastAdvertise) < s.opts.AdvertiseRetry {
		return
	}
	if err := s.advertiseLocked(); err != nil {
		slog.Warn("[BLE] advertising restart failed", "error", err)
		return
	}
	slog.Info("[BLE] advertising restarted")
}

func (s *Server) advertiseLocked() error {
	s.lastAdvertise = s.opts.Clock.Now()
	if err := s.periph.Advertise(s.opts.DeviceName, ServiceUUID); err != nil {
		return err
	}
	s.advertising = true
	return nil
}

func (s *Server) handleWrite(uuid, client string, value []byte, decode decodeFunc) {
	cmd, err := decode(value)
	if err != nil {
		s.reject(uuid, client, err)
		return
	}
	res, err := s.core.Apply(cmd)
	if err != nil {
		s.reject(uuid, client, err)
		s.refresh(uuid)
		return
	}
	if !res.Changed {
		// The central's write may differ from the stored value (clamped,
		// or equal within epsilon); put the real value back.
		s.refresh(uuid)
	}
}

func (s *Server) reject(uuid, client string, err error) {
	slog.Warn("[BLE] write rejected", "char", charName(uuid), "client", client, "error", err)
	msg := err.Error()
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		msg = strings.TrimPrefix(msg, "protocol: ")
	}
	s.core.NotifyStatus("[BLE] ERR " + msg)
}

// refresh rewrites a setting characteristic from the current state.
func (s *Server) refresh(uuid string) {
	kind, ok := settingKinds[uuid]
	if !ok {
		return
	}
	if _, value, ok := render(core.Event{Kind: kind, State: s.core.Snapshot()}); ok {
		s.publish(uuid, value)
	}
}

func (s *Server) characteristics(st core.State) []CharacteristicSpec {
	setting := func(uuid string, decode decodeFunc) CharacteristicSpec {
		_, initial, _ := render(core.Event{Kind: settingKinds[uuid], State: st})
		return s.writable(uuid, initial, decode)
	}
	return []CharacteristicSpec{
		setting(SpeedCharUUID, decodeSpeed),
		setting(PatternCharUUID, decodePattern),
		{UUID: StatusCharUUID, Value: []byte("ready"), Notify: true},
		setting(ModeCharUUID, decodeMode),
		setting(RunCharUUID, decodeRun),
		{UUID: TelemetryCharUUID, Value: []byte{}, Notify: true},
		s.writable(CommandCharUUID, []byte{}, decodeCommand),
		s.writable(ScriptCharUUID, []byte{}, decodeScript),
		s.writable(WiFiSSIDCharUUID, []byte{}, decodeSSID),
		s.writable(WiFiPassCharUUID, []byte{}, decodePassword),
		{UUID: WiFiStatusCharUUID, Value: []byte{}, Notify: true},
		setting(LedEffectCharUUID, decodeLedEffect),
		setting(LedColorCharUUID, decodeLedColor),
		setting(LedBrightnessCharUUID, decodeLedBrightness),
	}
}

func (s *Server) writable(uuid string, initial []byte, decode decodeFunc) CharacteristicSpec {
	return CharacteristicSpec{
		UUID:   uuid,
		Value:  initial,
		Write:  true,
		Notify: true,
		OnWrite: func(client string, value []byte) {
			s.handleWrite(uuid, client, value, decode)
		},
	}
}

var settingKinds = map[string]core.EventKind{
	SpeedCharUUID:         core.EventSpeed,
	PatternCharUUID:       core.EventPattern,
	ModeCharUUID:          core.EventMode,
	RunCharUUID:           core.EventRun,
	LedEffectCharUUID:     core.EventLedEffect,
	LedColorCharUUID:      core.EventLedColor,
	LedBrightnessCharUUID: core.EventLedBrightness,
}

// render maps an event to the characteristic it updates and its ASCII value.
func render(ev core.Event) (string, []byte, bool) {
	st := ev.State
	switch ev.Kind {
	case core.EventSpeed:
		return SpeedCharUUID, protocol.FormatFloat(st.SpeedMultiplier), true
	case core.EventPattern:
		return PatternCharUUID, protocol.FormatInt(st.Pattern), true
	case core.EventMode:
		return ModeCharUUID, protocol.FormatBool(st.AutoMode), true
	case core.EventRun:
		return RunCharUUID, protocol.FormatBool(st.Running), true
	case core.EventLedEffect:
		return LedEffectCharUUID, protocol.FormatInt(int(st.LedEffect)), true
	case core.EventLedColor:
		c := st.LedColor
		return LedColorCharUUID, protocol.FormatColor(c.R, c.G, c.B), true
	case core.EventLedBrightness:
		return LedBrightnessCharUUID, protocol.FormatInt(int(st.LedBrightness)), true
	case core.EventStatus:
		return StatusCharUUID, []byte(ev.Message), true
	case core.EventTelemetry:
		return TelemetryCharUUID, []byte(ev.Message), true
	case core.EventWiFiStatus:
		return WiFiStatusCharUUID, []byte(ev.Message), true
	}
	return "", nil, false
}

func decodeSpeed(v []byte) (core.Command, error) {
	f, err := protocol.ParseFloat(v)
	if err != nil {
		return nil, err
	}
	return core.SetSpeed{Value: f}, nil
}

func decodePattern(v []byte) (core.Command, error) {
	n, err := protocol.ParseInt(v)
	if err != nil {
		return nil, err
	}
	return core.SetPattern{Value: n}, nil
}

func decodeMode(v []byte) (core.Command, error) {
	b, err := protocol.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return core.SetAutoMode{Value: b}, nil
}

func decodeRun(v []byte) (core.Command, error) {
	b, err := protocol.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return core.SetRunState{Value: b}, nil
}

func decodeLedEffect(v []byte) (core.Command, error) {
	n, err := protocol.ParseUint8(v)
	if err != nil {
		return nil, err
	}
	return core.SetLedEffect{Value: n}, nil
}

func decodeLedColor(v []byte) (core.Command, error) {
	r, g, b, err := protocol.ParseColor(v)
	if err != nil {
		return nil, err
	}
	return core.SetLedColor{Color: core.RGB{R: r, G: g, B: b}}, nil
}

func decodeLedBrightness(v []byte) (core.Command, error) {
	n, err := protocol.ParseUint8(v)
	if err != nil {
		return nil, err
	}
	return core.SetLedBrightness{Value: n}, nil
}

func decodeCommand(v []byte) (core.Command, error) {
	return core.GenericCommand{Raw: string(trimLine(v))}, nil
}

func decodeSSID(v []byte) (core.Command, error) {
	return core.SetWiFiSSID{Value: string(trimLine(v))}, nil
}

func decodePassword(v []byte) (core.Command, error) {
	return core.SetWiFiPassword{Value: string(trimLine(v))}, nil
}

func decodeScript(v []byte) (core.Command, error) {
	f, err := protocol.ParseFrame(v)
	if err != nil {
		return nil, err
	}
	switch f.Op {
	case protocol.OpBegin:
		return core.ScriptBegin{Length: f.Length, Slot: f.Slot}, nil
	case protocol.OpChunk:
		return core.ScriptChunk{Data: f.Data}, nil
	case protocol.OpEnd:
		return core.ScriptEnd{}, nil
	default:
		return core.ScriptReset{Reason: core.ReasonAbort}, nil
	}
}

// trimLine drops the line terminator and NUL padding some apps append.
func trimLine(v []byte) []byte {
	end := len(v)
	for end > 0 && (v[end-1] == '\n' || v[end-1] == '\r' || v[end-1] == 0) {
		end--
	}
	return v[:end]
}

var charNames = map[string]string{
	SpeedCharUUID:         "speed",
	PatternCharUUID:       "pattern",
	StatusCharUUID:        "status",
	ModeCharUUID:          "mode",
	RunCharUUID:           "run",
	TelemetryCharUUID:     "telemetry",
	CommandCharUUID:       "command",
	ScriptCharUUID:        "script",
	WiFiSSIDCharUUID:      "wifi_ssid",
	WiFiPassCharUUID:      "wifi_pass",
	WiFiStatusCharUUID:    "wifi_status",
	LedEffectCharUUID:     "led_effect",
	LedColorCharUUID:      "led_color",
	LedBrightnessCharUUID: "led_brightness",
}

func charName(uuid string) string {
	if n, ok := charNames[uuid]; ok {
		return n
	}
	return uuid
}
