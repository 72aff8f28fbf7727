package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	onWrite  func(data []byte) // optional hook, called after recording
	failAt   int               // fail the Nth write (1-based); 0 never
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	n := len(c.writes)
	hook := c.onWrite
	c.mu.Unlock()
	if c.failAt > 0 && n == c.failAt {
		return errors.New("mock: write failed")
	}
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// mockConnection simulates a BLE connection to a Sand Garden peripheral.
type mockConnection struct {
	mu           sync.Mutex
	scriptChar   *mockCharacteristic
	commandChar  *mockCharacteristic
	statusChar   *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		scriptChar:  &mockCharacteristic{},
		commandChar: &mockCharacteristic{},
		statusChar:  &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	switch charUUID {
	case ScriptCharUUID:
		return c.scriptChar, nil
	case CommandCharUUID:
		return c.commandChar, nil
	case StatusCharUUID:
		return c.statusChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE adapter in the central role.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	failFirst  int // number of Connect calls that fail before one succeeds
	connects   int
	connection *mockConnection // most recent connection for test assertions
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.connects <= a.failFirst {
		return nil, errors.New("mock: connect failed")
	}
	return a.connection, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

// mockNotifier records the values published to one local characteristic.
type mockNotifier struct {
	mu     sync.Mutex
	values [][]byte
}

func (n *mockNotifier) Notify(value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	n.values = append(n.values, cp)
	return nil
}

func (n *mockNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.values) == 0 {
		return ""
	}
	return string(n.values[len(n.values)-1])
}

func (n *mockNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.values))
	for i, v := range n.values {
		out[i] = string(v)
	}
	return out
}

// mockPeripheral simulates the BLE adapter in the peripheral role.
type mockPeripheral struct {
	mu          sync.Mutex
	specs       map[string]CharacteristicSpec
	notifiers   map[string]*mockNotifier
	onConnect   func(client string, connected bool)
	advertises  int
	stops       int
	advertising bool
	advertErr   error
}

func newMockPeripheral() *mockPeripheral {
	return &mockPeripheral{
		specs:     make(map[string]CharacteristicSpec),
		notifiers: make(map[string]*mockNotifier),
	}
}

func (p *mockPeripheral) Enable() error { return nil }

func (p *mockPeripheral) AddService(_ string, chars []CharacteristicSpec) (map[string]Notifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Notifier, len(chars))
	for _, c := range chars {
		p.specs[c.UUID] = c
		n := &mockNotifier{}
		p.notifiers[c.UUID] = n
		out[c.UUID] = n
	}
	return out, nil
}

func (p *mockPeripheral) SetConnectHandler(cb func(client string, connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = cb
}

func (p *mockPeripheral) Advertise(string, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertises++
	if p.advertErr != nil {
		return p.advertErr
	}
	p.advertising = true
	return nil
}

func (p *mockPeripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.advertising = false
	return nil
}

// write simulates a central writing value to the characteristic uuid.
func (p *mockPeripheral) write(t *testing.T, uuid, value string) {
	t.Helper()
	p.mu.Lock()
	spec, ok := p.specs[uuid]
	p.mu.Unlock()
	if !ok || spec.OnWrite == nil {
		t.Fatalf("characteristic %s is not writable", charName(uuid))
	}
	spec.OnWrite("aa:bb:cc:dd:ee:ff", []byte(value))
}

func (p *mockPeripheral) connect(client string, connected bool) {
	p.mu.Lock()
	cb := p.onConnect
	p.mu.Unlock()
	if cb != nil {
		cb(client, connected)
	}
}

func (p *mockPeripheral) notifier(uuid string) *mockNotifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifiers[uuid]
}

func (p *mockPeripheral) advertiseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertises
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}

func TestMockPeripheralImplementsInterface(t *testing.T) {
	var _ Peripheral = (*mockPeripheral)(nil)
}
