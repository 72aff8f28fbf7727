package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/ble/protocol"
)

// ErrNotConnected is returned when the uploader has no live connection.
var ErrNotConnected = errors.New("ble: not connected")

// UploaderOptions configures the BLE uploader behavior.
type UploaderOptions struct {
	MTU             int           // ATT MTU used to size SCRIPT_CHUNK writes
	InterChunkDelay time.Duration // delay between chunk writes (default 20ms)
	ConnectAttempts int           // connection attempts before giving up
	ReconnectMax    int           // max backoff between attempts in seconds
	ReplyTimeout    time.Duration // how long to wait for READY after SCRIPT_END
	Clock           clockwork.Clock
}

// DefaultUploaderOptions returns sensible defaults.
func DefaultUploaderOptions() UploaderOptions {
	return UploaderOptions{
		MTU:             protocol.DefaultMTU,
		InterChunkDelay: 20 * time.Millisecond,
		ConnectAttempts: 4,
		ReconnectMax:    8,
		ReplyTimeout:    5 * time.Second,
		Clock:           clockwork.NewRealClock(),
	}
}

// Uploader drives a Sand Garden peripheral from the central side: it sends
// SandScripts as SCRIPT_* frames and generic commands, and reads the status
// characteristic to learn the outcome.
type Uploader struct {
	adapter Adapter
	address string
	opts    UploaderOptions

	mu          sync.Mutex
	conn        Connection
	scriptChar  Characteristic
	commandChar Characteristic
	connected   bool

	status chan string
}

// NewUploader creates an uploader for the peripheral at address. Zero
// option fields take the defaults.
func NewUploader(adapter Adapter, address string, opts UploaderOptions) *Uploader {
	def := DefaultUploaderOptions()
	if opts.MTU <= 0 {
		opts.MTU = def.MTU
	}
	if opts.InterChunkDelay <= 0 {
		opts.InterChunkDelay = def.InterChunkDelay
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = def.ConnectAttempts
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = def.ReplyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &Uploader{
		adapter: adapter,
		address: address,
		opts:    opts,
		status:  make(chan string, 64),
	}
}

// FindDevice scans until ctx is done and returns the first peripheral
// advertising the Sand Garden service, preferring one called name.
func FindDevice(ctx context.Context, adapter Adapter, name string) (Device, error) {
	if err := adapter.Enable(); err != nil {
		return Device{}, fmt.Errorf("ble: enable adapter: %w", err)
	}
	devices, err := adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("ble: no device advertising %s", ServiceUUID)
	}
	for _, d := range devices {
		if name != "" && d.Name == name {
			return d, nil
		}
	}
	return devices[0], nil
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Connect enables the adapter and connects to the peripheral, retrying with
// exponential backoff.
func (u *Uploader) Connect(ctx context.Context) error {
	if err := u.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < u.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, u.opts.ReconnectMax)
			slog.Info("[BLE] connect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-u.opts.Clock.After(delay):
			}
		}

		conn, err := u.adapter.Connect(ctx, u.address)
		if err != nil {
			slog.Warn("[BLE] connect failed", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}
		if err := u.setConnected(conn); err != nil {
			conn.Disconnect()
			return err
		}

		conn.OnDisconnect(func() {
			slog.Warn("[BLE] peripheral disconnected", "address", u.address)
			u.setDisconnected()
		})
		slog.Info("[BLE] connected", "address", u.address)
		return nil
	}
	return fmt.Errorf("ble: connect to %s after %d attempts: %w", u.address, u.opts.ConnectAttempts, lastErr)
}

// setConnected discovers the characteristics the uploader needs and
// subscribes to status notifications.
func (u *Uploader) setConnected(conn Connection) error {
	scriptChar, err := conn.DiscoverCharacteristic(ServiceUUID, ScriptCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover script characteristic: %w", err)
	}
	commandChar, err := conn.DiscoverCharacteristic(ServiceUUID, CommandCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover command characteristic: %w", err)
	}
	statusChar, err := conn.DiscoverCharacteristic(ServiceUUID, StatusCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover status characteristic: %w", err)
	}
	if err := statusChar.Subscribe(u.onStatus); err != nil {
		return fmt.Errorf("ble: subscribe status: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.conn = conn
	u.scriptChar = scriptChar
	u.commandChar = commandChar
	u.connected = true
	return nil
}

// setDisconnected marks the uploader as disconnected.
func (u *Uploader) setDisconnected() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = false
	u.conn = nil
	u.scriptChar = nil
	u.commandChar = nil
}

func (u *Uploader) onStatus(data []byte) {
	msg := string(data)
	slog.Debug("[BLE] status", "msg", msg)
	select {
	case u.status <- msg:
	default:
		slog.Warn("[BLE] status backlog full, dropping", "msg", msg)
	}
}

// Command writes a generic command token.
func (u *Uploader) Command(token string) error {
	u.mu.Lock()
	ch, ok := u.commandChar, u.connected
	u.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return ch.Write([]byte(token))
}

// Upload sends script into slot (protocol.NoSlot for none) and waits for the
// peripheral to report READY.
func (u *Uploader) Upload(ctx context.Context, script []byte, slot int) error {
	if len(script) == 0 {
		return errors.New("ble: empty script")
	}
	u.mu.Lock()
	ch, ok := u.scriptChar, u.connected
	u.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	u.drainStatus()
	if err := ch.Write(protocol.BeginFrame(len(script), slot)); err != nil {
		return fmt.Errorf("ble: write begin: %w", err)
	}

	chunks := protocol.ChunkScript(script, protocol.MaxChunkPayload(u.opts.MTU))
	for i, chunk := range chunks {
		if err := u.failure(); err != nil {
			return err
		}
		if err := ch.Write(protocol.ChunkFrame(chunk)); err != nil {
			u.abort(ch)
			return fmt.Errorf("ble: write chunk %d/%d: %w", i+1, len(chunks), err)
		}
		// Small delay between chunks to avoid overwhelming the peripheral
		if i < len(chunks)-1 {
			u.opts.Clock.Sleep(u.opts.InterChunkDelay)
		}
	}

	if err := ch.Write(protocol.EndFrame()); err != nil {
		u.abort(ch)
		return fmt.Errorf("ble: write end: %w", err)
	}
	return u.awaitReady(ctx, len(script))
}

func (u *Uploader) abort(ch Characteristic) {
	if err := ch.Write(protocol.AbortFrame()); err != nil {
		slog.Debug("[BLE] abort write failed", "error", err)
	}
}

func (u *Uploader) drainStatus() {
	for {
		select {
		case <-u.status:
		default:
			return
		}
	}
}

// failure returns an error for a pending failure status without blocking.
func (u *Uploader) failure() error {
	for {
		select {
		case msg := <-u.status:
			if isFailure(msg) {
				return fmt.Errorf("ble: upload rejected: %s", msg)
			}
		default:
			return nil
		}
	}
}

func (u *Uploader) awaitReady(ctx context.Context, n int) error {
	want := fmt.Sprintf("[SCRIPT] READY len=%d", n)
	timeout := u.opts.Clock.After(u.opts.ReplyTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("ble: no READY within %v", u.opts.ReplyTimeout)
		case msg := <-u.status:
			switch {
			case msg == want:
				slog.Info("[BLE] script accepted", "bytes", n)
				return nil
			case isFailure(msg):
				return fmt.Errorf("ble: upload rejected: %s", msg)
			}
		}
	}
}

func isFailure(msg string) bool {
	return strings.HasPrefix(msg, "[SCRIPT] RESET") ||
		strings.HasPrefix(msg, "[SCRIPT] ERR") ||
		strings.HasPrefix(msg, "[BLE] ERR")
}

// Close disconnects from the peripheral.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var err error
	if u.conn != nil {
		err = u.conn.Disconnect()
	}
	u.connected = false
	u.conn = nil
	return err
}
