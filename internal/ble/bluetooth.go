package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// BluetoothAdapter wraps tinygo-org/bluetooth. It runs on BlueZ (Linux) and
// CoreBluetooth (macOS). On macOS the Device.Address is a CoreBluetooth UUID
// rather than a MAC address. Writes with response are only available on
// macOS and Windows; BlueZ builds return ErrWriteWithResponse.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the maps below.
	mu          sync.Mutex
	addresses   map[string]bluetooth.Address // latest scan results keyed by address string
	connections map[string]*bluetoothConnection
}

// NewBluetoothAdapter creates a BLE adapter backed by the default host adapter.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		addresses:   make(map[string]bluetooth.Address),
		connections: make(map[string]*bluetoothConnection),
	}
}

func (a *BluetoothAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a peripheral
	// drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.markDisconnected()
		}
	})

	return nil
}

func (a *BluetoothAdapter) Scan(ctx context.Context, filter ScanFilter) ([]Device, error) {
	var (
		svcUUID bluetooth.UUID
		hasSvc  bool
	)
	if filter.ServiceUUID != "" {
		uuid, err := bluetooth.ParseUUID(filter.ServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		svcUUID, hasSvc = uuid, true
	}

	a.resetScanResults()

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

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !filter.Matches(name, hasSvc && result.HasServiceUUID(svcUUID)) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true

		a.rememberAddress(addr, result.Address)

		devices = append(devices, Device{
			Name:    name,
			Address: addr,
			RSSI:    int(result.RSSI),
		})
		if filter.Limit > 0 && len(devices) >= filter.Limit {
			adapter.StopScan()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *BluetoothAdapter) Connect(ctx context.Context, device Device) (Connection, error) {
	addr, ok := a.lookupAddress(device.Address)
	if !ok {
		return nil, fmt.Errorf("ble: connect to %s: device not seen by scan", device.Address)
	}

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it so the
	// caller's ctx bounds the wait.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect may still succeed later; drop that link.
		go func() {
			if result := <-ch; result.err == nil {
				slog.Debug("[BLE] dropping late connection", "address", device.Address)
				result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, result.err)
		}
		conn := &bluetoothConnection{device: result.device}
		conn.alive.Store(true)

		a.mu.Lock()
		a.connections[device.Address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// resetScanResults forgets the previous scan. Only devices seen by the latest
// scan can be connected to, which keeps the map bounded by one scan's matches.
func (a *BluetoothAdapter) resetScanResults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.addresses)
}

func (a *BluetoothAdapter) rememberAddress(id string, addr bluetooth.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addresses[id] = addr
}

func (a *BluetoothAdapter) lookupAddress(id string) (bluetooth.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.addresses[id]
	return addr, ok
}

// Compile-time check that BluetoothAdapter implements Adapter.
var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device bluetooth.Device
	alive  atomic.Bool

	mu           sync.Mutex
	disconnectCb func()
}

func (c *bluetoothConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
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

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &bluetoothCharacteristic{char: chars[0], conn: c}, nil
}

func (c *bluetoothConnection) Disconnect() error {
	err := c.device.Disconnect()
	c.markDisconnected()
	return err
}

func (c *bluetoothConnection) Alive() bool {
	return c.alive.Load()
}

func (c *bluetoothConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// markDisconnected flips the link state once and fires the callback.
func (c *bluetoothConnection) markDisconnected() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type bluetoothCharacteristic struct {
	char bluetooth.DeviceCharacteristic
	conn *bluetoothConnection
}

func (c *bluetoothCharacteristic) Write(data []byte, withResponse bool) error {
	if !c.conn.Alive() {
		return ErrNotConnected
	}
	if withResponse {
		return writeWithResponse(c.char, data)
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The stack reuses buf between notifications.
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
