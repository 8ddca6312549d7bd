// Package ble provides the transport layer for talking to the ESP32 capture
// camera over Bluetooth Low Energy: discovery, connections, characteristic
// writes and notification subscriptions.
package ble

import (
	"context"
	"strings"
)

// Capture camera BLE UUIDs
const (
	ServiceUUID     = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	StatusCharUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	DataCharUUID    = "7347e350-5552-4822-8243-b8923a4114d2"
	CommandCharUUID = "a244c201-1fb5-459e-8fcc-c5c9c331914b"
	ConfigCharUUID  = "a31a6820-8437-4f55-8898-5226c04a29a3"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic. When withResponse is false the
	// write is fire-and-forget.
	Write(data []byte, withResponse bool) error
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
	// Alive reports whether the link is still up.
	Alive() bool
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals accepted by filter until ctx is done or
	// filter.Limit matches have been seen.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to a previously discovered device.
	Connect(ctx context.Context, device Device) (Connection, error)
}

// ScanFilter selects which advertisements are reported by Scan.
type ScanFilter struct {
	// ServiceUUID matches devices advertising this service.
	ServiceUUID string
	// NameSubstrings matches devices whose local name contains any entry.
	NameSubstrings []string
	// Limit stops the scan after this many distinct matches. Zero scans for
	// the whole window.
	Limit int
}

// Matches reports whether an advertisement passes the filter. A device
// matches when it advertises the service or carries one of the names. An
// empty filter matches everything.
func (f ScanFilter) Matches(name string, hasService bool) bool {
	if f.ServiceUUID == "" && len(f.NameSubstrings) == 0 {
		return true
	}
	if f.ServiceUUID != "" && hasService {
		return true
	}
	if name == "" {
		return false
	}
	for _, s := range f.NameSubstrings {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}
