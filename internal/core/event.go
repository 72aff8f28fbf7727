package core

// EventKind names what an Event reports. String returns the SSE event name.
type EventKind int

const (
	EventSpeed EventKind = iota
	EventPattern
	EventMode
	EventRun
	EventLedEffect
	EventLedColor
	EventLedBrightness
	EventStatus
	EventTelemetry
	EventWiFiStatus
)

var eventNames = [...]string{
	EventSpeed:         "speed",
	EventPattern:       "pattern",
	EventMode:          "mode",
	EventRun:           "run",
	EventLedEffect:     "ledEffect",
	EventLedColor:      "ledColor",
	EventLedBrightness: "ledBrightness",
	EventStatus:        "status",
	EventTelemetry:     "telemetry",
	EventWiFiStatus:    "wifiStatus",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is fanned out to every Observer after a committed change. State is
// the snapshot taken right after the change; Message carries the text of
// status, telemetry and WiFi status events.
type Event struct {
	Kind    EventKind
	State   State
	Message string
}

// Observer renders events into a transport encoding (BLE notify, SSE).
// Broadcast must not block.
type Observer interface {
	Broadcast(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Broadcast(ev Event) { f(ev) }
