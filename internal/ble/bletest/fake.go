// Package bletest provides in-memory fakes of the ble transport interfaces
// for exercising the session state machine without a radio.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/capture-gateway/internal/ble"
)

// Characteristic records writes and allows simulating notifications.
type Characteristic struct {
	UUID string

	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	writeErr error
	subErr   error
	onWrite  func(data []byte)
	conn     *Connection
}

func (c *Characteristic) Write(data []byte, _ bool) error {
	if c.conn != nil && !c.conn.Alive() {
		return ble.ErrNotConnected
	}
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.callback = cb
	return nil
}

// Notify delivers data to the subscriber, if any.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Subscribed reports whether a notification callback is registered.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Writes returns a copy of every payload written so far.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// CountWrites returns how many writes equal payload.
func (c *Characteristic) CountWrites(payload string) int {
	n := 0
	for _, w := range c.Writes() {
		if string(w) == payload {
			n++
		}
	}
	return n
}

// SetWriteError makes subsequent writes fail with err (nil clears it).
func (c *Characteristic) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// SetSubscribeError makes Subscribe fail with err.
func (c *Characteristic) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subErr = err
}

// OnWrite registers a hook called after every successful write. It runs on
// the writer's goroutine.
func (c *Characteristic) OnWrite(hook func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = hook
}

// Connection simulates a BLE link exposing the capture camera service.
type Connection struct {
	Status  *Characteristic
	Data    *Characteristic
	Command *Characteristic
	Config  *Characteristic

	alive        atomic.Bool
	disconnected atomic.Bool

	mu           sync.Mutex
	disconnectCb func()
	discoverErr  error
}

// NewConnection returns a live connection with all characteristics present.
func NewConnection() *Connection {
	c := &Connection{}
	c.Status = &Characteristic{UUID: ble.StatusCharUUID, conn: c}
	c.Data = &Characteristic{UUID: ble.DataCharUUID, conn: c}
	c.Command = &Characteristic{UUID: ble.CommandCharUUID, conn: c}
	c.Config = &Characteristic{UUID: ble.ConfigCharUUID, conn: c}
	c.alive.Store(true)
	return c
}

func (c *Connection) DiscoverCharacteristic(_, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	err := c.discoverErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	switch charUUID {
	case ble.StatusCharUUID:
		return c.Status, nil
	case ble.DataCharUUID:
		return c.Data, nil
	case ble.CommandCharUUID:
		return c.Command, nil
	case ble.ConfigCharUUID:
		return c.Config, nil
	default:
		return nil, fmt.Errorf("bletest: unknown characteristic UUID %q", charUUID)
	}
}

// SetDiscoverError makes characteristic discovery fail.
func (c *Connection) SetDiscoverError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverErr = err
}

func (c *Connection) Disconnect() error {
	c.disconnected.Store(true)
	c.alive.Store(false)
	return nil
}

// Disconnected reports whether Disconnect was called by the client.
func (c *Connection) Disconnected() bool {
	return c.disconnected.Load()
}

func (c *Connection) Alive() bool {
	return c.alive.Load()
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// Drop simulates the peripheral going away.
func (c *Connection) Drop() {
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

// MarkDead makes Alive report false without firing the disconnect callback,
// like a stack that only exposes link state by polling.
func (c *Connection) MarkDead() {
	c.alive.Store(false)
}

// ErrConnectRefused is the default failure used by Adapter.FailConnects.
var ErrConnectRefused = errors.New("bletest: connect refused")

// Adapter simulates the host BLE adapter.
type Adapter struct {
	mu           sync.Mutex
	devices      []ble.Device
	filters      []ble.ScanFilter
	connects     int
	failConnects int
	connections  []*Connection
	newConn      func() *Connection
	connected    chan *Connection
}

// NewAdapter returns an adapter whose scans report devices.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{
		devices:   devices,
		newConn:   NewConnection,
		connected: make(chan *Connection, 16),
	}
}

func (a *Adapter) Enable() error { return nil }

// Scan returns the configured devices that pass filter. With no match it
// blocks until ctx is done, like a real scan window.
func (a *Adapter) Scan(ctx context.Context, filter ble.ScanFilter) ([]ble.Device, error) {
	a.mu.Lock()
	a.filters = append(a.filters, filter)
	var found []ble.Device
	for _, d := range a.devices {
		if filter.Matches(d.Name, false) {
			found = append(found, d)
		}
		if filter.Limit > 0 && len(found) >= filter.Limit {
			break
		}
	}
	a.mu.Unlock()

	if len(found) == 0 || filter.Limit == 0 {
		<-ctx.Done()
	}
	return found, nil
}

func (a *Adapter) Connect(ctx context.Context, _ ble.Device) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.connects++
	if a.failConnects > 0 {
		a.failConnects--
		a.mu.Unlock()
		return nil, ErrConnectRefused
	}
	conn := a.newConn()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()

	select {
	case a.connected <- conn:
	default:
	}
	return conn, nil
}

// SetDevices replaces the devices reported by future scans.
func (a *Adapter) SetDevices(devices ...ble.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices = devices
}

// FailConnects makes the next n Connect calls fail.
func (a *Adapter) FailConnects(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failConnects = n
}

// UseConnections sets the constructor for connections handed out by Connect.
func (a *Adapter) UseConnections(fn func() *Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.newConn = fn
}

// Connected delivers each connection as it is handed out.
func (a *Adapter) Connected() <-chan *Connection {
	return a.connected
}

// Connects returns the number of Connect calls.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Filters returns the filters passed to Scan.
func (a *Adapter) Filters() []ble.ScanFilter {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ble.ScanFilter, len(a.filters))
	copy(out, a.filters)
	return out
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
