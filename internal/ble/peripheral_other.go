//go:build !linux

package ble

type unsupportedPeripheral struct{}

// NewPeripheral returns a peripheral whose Enable always fails.
func NewPeripheral() Peripheral { return unsupportedPeripheral{} }

func (unsupportedPeripheral) Enable() error { return ErrPeripheralUnsupported }

func (unsupportedPeripheral) AddService(string, []CharacteristicSpec) (map[string]Notifier, error) {
	return nil, ErrPeripheralUnsupported
}

func (unsupportedPeripheral) SetConnectHandler(func(string, bool)) {}

func (unsupportedPeripheral) Advertise(string, string) error { return ErrPeripheralUnsupported }

func (unsupportedPeripheral) StopAdvertising() error { return nil }
