//go:build linux

package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoPeripheral serves the local GATT service through tinygo-org/bluetooth
// (BlueZ over D-Bus on Linux).
type TinyGoPeripheral struct {
	adapter *bluetooth.Adapter

	mu  sync.Mutex
	adv *bluetooth.Advertisement
}

// NewPeripheral returns the platform peripheral backed by the default adapter.
func NewPeripheral() Peripheral {
	return &TinyGoPeripheral{adapter: bluetooth.DefaultAdapter}
}

func (p *TinyGoPeripheral) Enable() error {
	return p.adapter.Enable()
}

func (p *TinyGoPeripheral) AddService(serviceUUID string, specs []CharacteristicSpec) (map[string]Notifier, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	handles := make(map[string]*tinyGoNotifier, len(specs))
	configs := make([]bluetooth.CharacteristicConfig, 0, len(specs))
	for _, spec := range specs {
		charUUID, err := bluetooth.ParseUUID(spec.UUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse characteristic UUID %s: %w", spec.UUID, err)
		}
		n := &tinyGoNotifier{}
		handles[spec.UUID] = n

		cfg := bluetooth.CharacteristicConfig{
			Handle: &n.char,
			UUID:   charUUID,
			Value:  spec.Value,
			Flags:  bluetooth.CharacteristicReadPermission,
		}
		if spec.Notify {
			cfg.Flags |= bluetooth.CharacteristicNotifyPermission
		}
		if spec.Write {
			cfg.Flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
			onWrite := spec.OnWrite
			cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				if offset != 0 || onWrite == nil {
					return
				}
				buf := make([]byte, len(value))
				copy(buf, value)
				onWrite(fmt.Sprint(client), buf)
			}
		}
		configs = append(configs, cfg)
	}

	err = p.adapter.AddService(&bluetooth.Service{
		UUID:            svcUUID,
		Characteristics: configs,
	})
	if err != nil {
		return nil, fmt.Errorf("ble: add service: %w", err)
	}

	out := make(map[string]Notifier, len(handles))
	for id, n := range handles {
		out[id] = n
	}
	return out, nil
}

func (p *TinyGoPeripheral) SetConnectHandler(cb func(client string, connected bool)) {
	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		cb(device.Address.String(), connected)
	})
}

func (p *TinyGoPeripheral) Advertise(localName, serviceUUID string) error {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv == nil {
		p.adv = p.adapter.DefaultAdvertisement()
		err := p.adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    localName,
			ServiceUUIDs: []bluetooth.UUID{svcUUID},
		})
		if err != nil {
			p.adv = nil
			return fmt.Errorf("ble: configure advertisement: %w", err)
		}
	}
	if err := p.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	return nil
}

func (p *TinyGoPeripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adv == nil {
		return nil
	}
	return p.adv.Stop()
}

// Compile-time check that TinyGoPeripheral implements Peripheral.
var _ Peripheral = (*TinyGoPeripheral)(nil)

type tinyGoNotifier struct {
	char bluetooth.Characteristic
}

// Notify sets the value; BlueZ notifies subscribed centrals.
func (n *tinyGoNotifier) Notify(value []byte) error {
	_, err := n.char.Write(value)
	return err
}
