package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// CentralAdapter wraps tinygo-org/bluetooth in the central role.
// On macOS, BLE device addresses are CoreBluetooth UUIDs (not MAC addresses);
// Device.Address carries whichever form the platform reports.
type CentralAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled and the connections map.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*centralConnection // keyed by device address
}

// NewCentralAdapter creates a central adapter on the default BLE adapter.
func NewCentralAdapter() *CentralAdapter {
	return &CentralAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*centralConnection),
	}
}

// Enable powers the adapter. Later calls are no-ops.
func (a *CentralAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	a.enabled = true

	// tinygo/bluetooth reports peripheral disconnects through the
	// adapter-level connect handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := strings.ToLower(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *CentralAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *CentralAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// Connect blocks with its own timeout; the select below lets ctx win.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &centralConnection{device: &result.device}

		a.mu.Lock()
		a.connections[strings.ToLower(address)] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that CentralAdapter implements Adapter.
var _ Adapter = (*CentralAdapter)(nil)

type centralConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *centralConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	wantUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{wantUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &centralCharacteristic{char: &chars[0]}, nil
}

func (c *centralConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *centralConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *centralConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type centralCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

// Write uses write-without-response, the only write BlueZ exposes through
// tinygo. The uploader paces chunks with InterChunkDelay.
func (c *centralCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *centralCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
