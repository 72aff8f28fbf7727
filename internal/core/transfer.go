package core

import (
	"fmt"
	"time"
)

// NoSlot is the target slot of an upload that did not name one.
const NoSlot = -1

// Reset reasons reported in "[SCRIPT] RESET reason=<tag>" status lines.
const (
	ReasonPreempt  = "preempt"
	ReasonOverflow = "overflow"
	ReasonSize     = "size"
	ReasonAbort    = "abort"
	ReasonTimeout  = "timeout"
)

// Script is a completed upload handed to the listener.
type Script struct {
	Data []byte
	Slot int
}

// Transfer is the BEGIN/CHUNK/END state machine for SandScript uploads. It
// holds at most one session. Methods return the status lines the transition
// produced; the caller publishes them. Transfer is not safe for concurrent
// use.
type Transfer struct {
	maxLength        int
	timeout          time.Duration
	progressInterval time.Duration

	buf          []byte
	expected     int
	received     int
	slot         int
	active       bool
	lastActivity time.Time

	progressDirty bool
	lastProgress  time.Time
}

// NewTransfer returns an idle Transfer accepting scripts up to maxLength
// bytes and expiring sessions idle for longer than timeout.
func NewTransfer(maxLength int, timeout, progressInterval time.Duration) *Transfer {
	return &Transfer{
		maxLength:        maxLength,
		timeout:          timeout,
		progressInterval: progressInterval,
		slot:             NoSlot,
	}
}

// Active reports whether a session is open.
func (t *Transfer) Active() bool { return t.active }

// Progress returns the bytes received and expected by the open session.
func (t *Transfer) Progress() (received, expected int) { return t.received, t.expected }

// Slot returns the target slot of the open session.
func (t *Transfer) Slot() int { return t.slot }

// Begin opens a session for a script of length bytes. An open session is
// dropped first; the newest BEGIN always wins.
func (t *Transfer) Begin(length, slot int, now time.Time) ([]string, error) {
	if length <= 0 || length > t.maxLength {
		return nil, validationErrorf("Invalid length: %d", length)
	}

	var status []string
	if t.active || t.received > 0 {
		status = append(status, fmt.Sprintf("[SCRIPT] PREEMPT prev=%d/%d", t.received, t.expected))
		t.Reset(ReasonPreempt, false)
	}

	t.buf = make([]byte, 0, length)
	t.expected = length
	t.received = 0
	t.slot = slot
	t.active = true
	t.lastActivity = now
	t.lastProgress = now
	t.progressDirty = false

	status = append(status, fmt.Sprintf("[SCRIPT] BEGIN len=%d slot=%d", length, slot))
	return status, nil
}

// Chunk appends p to the open session. Overflowing the declared length
// aborts the session.
func (t *Transfer) Chunk(p []byte, now time.Time) ([]string, error) {
	if !t.active {
		return nil, protocolErrorf("No active script transfer")
	}
	if t.received+len(p) > t.expected {
		return t.Reset(ReasonOverflow, true), protocolErrorf("Chunk overflow")
	}

	t.buf = append(t.buf, p...)
	t.received += len(p)
	t.lastActivity = now
	if len(p) > 0 {
		t.progressDirty = true
	}
	return nil, nil
}

// End closes the session and returns the assembled script. A short session
// is aborted.
func (t *Transfer) End() (*Script, []string, error) {
	if !t.active {
		return nil, nil, protocolErrorf("No active script transfer")
	}
	if t.received != t.expected {
		err := protocolErrorf("Size mismatch recv=%d exp=%d", t.received, t.expected)
		return nil, t.Reset(ReasonSize, true), err
	}

	script := &Script{Data: t.buf, Slot: t.slot}
	n := t.expected
	t.buf = nil
	t.clear()

	return script, []string{fmt.Sprintf("[SCRIPT] READY len=%d", n)}, nil
}

// Reset drops any session. With notify set, a session that had made progress
// produces a RESET status line.
func (t *Transfer) Reset(reason string, notify bool) []string {
	hadProgress := t.active || t.received > 0
	t.buf = nil
	t.clear()

	if notify && hadProgress {
		if reason == "" {
			reason = "?"
		}
		return []string{"[SCRIPT] RESET reason=" + reason}
	}
	return nil
}

// Poll expires an idle session and reports throttled progress. It is called
// from the periodic tick.
func (t *Transfer) Poll(now time.Time) []string {
	if !t.active {
		return nil
	}

	idle := now.Sub(t.lastActivity)
	if idle > t.timeout {
		msg := fmt.Sprintf("[SCRIPT] ERR timeout after %dms", idle.Milliseconds())
		// The timeout line already told the client; no RESET line.
		t.Reset(ReasonTimeout, false)
		return []string{msg}
	}

	if t.progressDirty && now.Sub(t.lastProgress) >= t.progressInterval {
		t.progressDirty = false
		t.lastProgress = now
		return []string{fmt.Sprintf("[SCRIPT] RECV %d/%d", t.received, t.expected)}
	}
	return nil
}

func (t *Transfer) clear() {
	t.expected = 0
	t.received = 0
	t.slot = NoSlot
	t.active = false
	t.lastActivity = time.Time{}
	t.progressDirty = false
	t.lastProgress = time.Time{}
}
