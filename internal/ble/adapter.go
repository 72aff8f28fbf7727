// Package ble exposes the Sand Garden settings as a GATT service and
// provides a central-side uploader that drives the same service from a
// workstation. Both sides sit behind small interfaces so the tinygo
// bluetooth stack can be swapped for mocks in tests.
package ble

import (
	"context"
	"errors"
)

// Sand Garden GATT UUIDs
const (
	ServiceUUID           = "9b6c7e10-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	SpeedCharUUID         = "9b6c7e11-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	PatternCharUUID       = "9b6c7e12-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	StatusCharUUID        = "9b6c7e13-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	ModeCharUUID          = "9b6c7e14-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	RunCharUUID           = "9b6c7e15-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	TelemetryCharUUID     = "9b6c7e16-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	CommandCharUUID       = "9b6c7e17-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	ScriptCharUUID        = "9b6c7e18-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	WiFiSSIDCharUUID      = "9b6c7e19-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	WiFiPassCharUUID      = "9b6c7e1a-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	WiFiStatusCharUUID    = "9b6c7e1b-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	LedEffectCharUUID     = "9b6c7e1c-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	LedColorCharUUID      = "9b6c7e1d-3b2c-4d8c-9d7c-5e2a6d1f8b01"
	LedBrightnessCharUUID = "9b6c7e1e-3b2c-4d8c-9d7c-5e2a6d1f8b01"
)

// DefaultDeviceName is the advertised local name.
const DefaultDeviceName = "Sand Garden"

// ErrPeripheralUnsupported is returned on platforms where the tinygo
// bluetooth stack has no GATT server.
var ErrPeripheralUnsupported = errors.New("ble: peripheral role is only supported on linux")

// CharacteristicSpec describes one characteristic of the local service.
type CharacteristicSpec struct {
	UUID   string
	Value  []byte // initial value
	Write  bool   // clients may write (with or without response)
	Notify bool   // clients may subscribe
	// OnWrite is called with the writing client's address and the value.
	OnWrite func(client string, value []byte)
}

// Notifier replaces a local characteristic's value and notifies subscribers.
type Notifier interface {
	Notify(value []byte) error
}

// Peripheral abstracts the local BLE adapter in the peripheral role.
type Peripheral interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// AddService registers a primary service and returns a Notifier per
	// characteristic UUID.
	AddService(serviceUUID string, chars []CharacteristicSpec) (map[string]Notifier, error)
	// SetConnectHandler registers the callback for central connects and
	// disconnects.
	SetConnectHandler(func(client string, connected bool))
	// Advertise starts advertising localName with the given service UUID.
	Advertise(localName, serviceUUID string) error
	// StopAdvertising stops advertising.
	StopAdvertising() error
}

// Characteristic represents a remote GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the local BLE adapter in the central role.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID
	// until ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
