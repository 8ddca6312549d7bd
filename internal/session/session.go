// Package session drives the link to the capture camera: discovery,
// connection, notification handling, chunked image transfers and pushing
// settings to the device.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/capture-gateway/internal/ble"
	"github.com/chaz8081/capture-gateway/internal/ble/protocol"
	"github.com/chaz8081/capture-gateway/internal/metrics"
	"github.com/chaz8081/capture-gateway/internal/settings"
)

// Store persists finished transfers.
type Store interface {
	// Save durably writes data and returns its path relative to the image root.
	Save(ctx context.Context, data []byte, filename string) (string, error)
	// RecordCapture stores metadata for a file written by Save.
	RecordCapture(ctx context.Context, takenAt time.Time, path string) error
}

// Options configures device matching, session timing and transfer limits.
type Options struct {
	DeviceNames     []string      // advertised name substrings
	ServiceUUID     string        // advertised service that also identifies the camera
	ScanWindow      time.Duration // how long one discovery pass runs
	ConnectTimeout  time.Duration
	ConnectCooldown time.Duration // pause after a failed scan or connect
	ReconnectPause  time.Duration // pause after a disconnect
	ChunkTimeout    time.Duration // bound on each chunk wait
	PollInterval    time.Duration // Ready loop idle interval
	MaxImageBytes   int           // larger announced images are refused
}

// DefaultOptions returns the timings the camera firmware was built against.
func DefaultOptions() Options {
	return Options{
		DeviceNames:     []string{"T-Camera-BLE-Batch", "T-Camera-BLE"},
		ServiceUUID:     ble.ServiceUUID,
		ScanWindow:      120 * time.Second,
		ConnectTimeout:  20 * time.Second,
		ConnectCooldown: 2 * time.Second,
		ReconnectPause:  2 * time.Second,
		ChunkTimeout:    15 * time.Second,
		PollInterval:    time.Second,
		MaxImageBytes:   8 << 20,
	}
}

// Session owns the single device connection. Run drives it; Snapshot and
// SubmitConfig are safe to call from other goroutines.
type Session struct {
	adapter ble.Adapter
	store   Store
	queue   *settings.Queue
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	status status
	chunks *byteQueue
}

// New creates a session. m may be nil.
func New(adapter ble.Adapter, store Store, queue *settings.Queue, m *metrics.Metrics, opts Options) *Session {
	def := DefaultOptions()
	if len(opts.DeviceNames) == 0 {
		opts.DeviceNames = def.DeviceNames
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = def.ScanWindow
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ConnectCooldown <= 0 {
		opts.ConnectCooldown = def.ConnectCooldown
	}
	if opts.ReconnectPause <= 0 {
		opts.ReconnectPause = def.ReconnectPause
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = def.ChunkTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = def.MaxImageBytes
	}

	s := &Session{
		adapter: adapter,
		store:   store,
		queue:   queue,
		metrics: m,
		opts:    opts,
		now:     time.Now,
		chunks:  newByteQueue(),
	}
	s.status.text = "Initializing..."
	return s
}

// Snapshot returns the current status for display.
func (s *Session) Snapshot() Snapshot {
	snap := s.status.snapshot()
	snap.ConfigPending = s.queue.Pending()
	return snap
}

// Settings returns the last accepted capture schedule.
func (s *Session) Settings() settings.Command {
	return s.queue.Current()
}

// SubmitConfig queues a settings change for the next write opportunity. It
// returns a *settings.ValidationError or settings.ErrAlreadyPending when the
// change is refused.
func (s *Session) SubmitConfig(cmd settings.Command) error {
	if err := s.queue.Enqueue(cmd); err != nil {
		return err
	}
	slog.Info("[SESSION] settings queued", "frequency", cmd.FrequencySeconds, "threshold", cmd.ThresholdPercent)
	s.status.setText("Settings queued. Will send on next connection.")
	return nil
}

// Run drives the state machine until ctx is cancelled. Only a failure to
// enable the adapter is returned; every link error sends the session back to
// scanning.
func (s *Session) Run(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("session: enable adapter: %w", err)
	}

	for ctx.Err() == nil {
		if err := s.cycle(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("[SESSION] cycle ended", "reason", err)
		}
	}
	return ctx.Err()
}

// cycle runs one pass of scan, connect, serve and disconnect.
func (s *Session) cycle(ctx context.Context) error {
	s.setState(Scanning)
	s.announce("Scanning for camera device...")

	device, found, err := ble.FindDevice(ctx, s.adapter, s.scanFilter(), s.opts.ScanWindow)
	if err != nil {
		slog.Warn("[SESSION] scan failed", "error", err)
		sleepCtx(ctx, s.opts.ConnectCooldown)
		return err
	}
	if !found {
		return ErrDiscoveryTimeout
	}
	slog.Info("[SESSION] target device found", "address", device.Address, "name", device.Name)

	s.setState(Connecting)
	s.status.setDevice(device.Address)
	s.announce(fmt.Sprintf("Connecting to %s...", device.Address))

	conn, err := s.connect(ctx, device)
	if err != nil {
		slog.Warn("[SESSION] connect failed", "address", device.Address, "error", err)
		s.status.setDevice("")
		s.status.setText(fmt.Sprintf("Could not connect to %s. Retrying.", device.Address))
		sleepCtx(ctx, s.opts.ConnectCooldown)
		return err
	}
	slog.Info("[SESSION] connected", "address", device.Address)

	return s.serve(ctx, conn)
}

func (s *Session) scanFilter() ble.ScanFilter {
	return ble.ScanFilter{
		ServiceUUID:    s.opts.ServiceUUID,
		NameSubstrings: s.opts.DeviceNames,
	}
}

func (s *Session) connect(ctx context.Context, device ble.Device) (ble.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.adapter.Connect(ctx, device)
	s.metrics.ObserveConnect(err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return conn, nil
}

// link is the per-connection state. It is discarded on disconnect.
type link struct {
	conn    ble.Connection
	command ble.Characteristic
	config  ble.Characteristic

	ctx    context.Context // cancelled when the link goes away
	cancel context.CancelFunc
	parent context.Context // outlives the link; used for storage
	lost   chan struct{}

	events       *byteQueue // status lines, in arrival order
	transferBusy atomic.Bool
	wg           sync.WaitGroup
}

// serve runs Subscribing and Ready on a fresh connection and always leaves
// through Disconnecting.
func (s *Session) serve(ctx context.Context, conn ble.Connection) error {
	lctx, cancel := context.WithCancel(ctx)
	l := &link{
		conn:   conn,
		ctx:    lctx,
		cancel: cancel,
		parent: ctx,
		lost:   make(chan struct{}),
		events: newByteQueue(),
	}
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { close(l.lost) })
	})
	defer s.teardown(ctx, l)

	s.setState(Subscribing)
	s.status.setText("Connected. Setting up notifications...")
	if err := s.subscribe(l); err != nil {
		slog.Warn("[SESSION] setup failed", "error", err)
		s.status.setText("Device setup failed. Reconnecting.")
		return err
	}

	s.setState(Ready)
	s.announce("Ready. Waiting for device data...")

	l.wg.Add(1)
	go s.dispatch(l)

	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()
	for {
		if !conn.Alive() {
			return ErrLinkLost
		}
		s.pushConfig(l)

		timer.Reset(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.lost:
			return ErrLinkLost
		case <-timer.C:
		}
	}
}

// subscribe clears stale chunks, wires notifications and signals the device
// that the gateway is ready.
func (s *Session) subscribe(l *link) error {
	if n := s.chunks.Reset(); n > 0 {
		slog.Debug("[SESSION] dropped stale chunks", "count", n)
	}

	chars := make(map[string]ble.Characteristic, 4)
	for _, uuid := range []string{ble.StatusCharUUID, ble.DataCharUUID, ble.CommandCharUUID, ble.ConfigCharUUID} {
		c, err := l.conn.DiscoverCharacteristic(s.opts.ServiceUUID, uuid)
		if err != nil {
			return fmt.Errorf("%w: discover %s: %w", ErrSubscribe, uuid, err)
		}
		chars[uuid] = c
	}
	l.command = chars[ble.CommandCharUUID]
	l.config = chars[ble.ConfigCharUUID]

	if err := chars[ble.StatusCharUUID].Subscribe(l.events.Put); err != nil {
		return fmt.Errorf("%w: status notifications: %w", ErrSubscribe, err)
	}
	if err := chars[ble.DataCharUUID].Subscribe(s.chunks.Put); err != nil {
		return fmt.Errorf("%w: data notifications: %w", ErrSubscribe, err)
	}

	slog.Info("[SESSION] subscribed to notifications, signalling ready")
	if err := l.command.Write(protocol.CmdReady, false); err != nil {
		return fmt.Errorf("%w: write ready: %w", ErrSubscribe, err)
	}
	return nil
}

// pushConfig writes a pending settings change. The slot is cleared whether or
// not the write succeeds; the device never confirms receipt.
func (s *Session) pushConfig(l *link) {
	cmd, ok := s.queue.Drain()
	if !ok {
		return
	}
	payload := protocol.EncodeConfig(cmd.FrequencySeconds, cmd.ThresholdPercent)
	slog.Info("[SESSION] sending settings", "payload", string(payload))

	err := l.config.Write(payload, false)
	s.metrics.ObserveConfigPush(err == nil)
	if err != nil {
		slog.Warn("[SESSION] settings write failed", "error", err)
		s.status.setText("Failed to send settings to device.")
		return
	}
	s.status.setText("Settings sent to device.")
}

// teardown is the Disconnecting state. It waits for the dispatcher and any
// transfer to stop before returning to scanning.
func (s *Session) teardown(ctx context.Context, l *link) {
	s.setState(Disconnecting)
	l.cancel()
	l.wg.Wait()

	if l.conn.Alive() {
		if err := l.conn.Disconnect(); err != nil {
			slog.Debug("[SESSION] disconnect", "error", err)
		}
	}
	slog.Info("[SESSION] disconnected")

	s.status.setDevice("")
	s.announce("Disconnected. Resuming scan.")
	sleepCtx(ctx, s.opts.ReconnectPause)
}

// dispatch handles status notifications one at a time, in arrival order.
func (s *Session) dispatch(l *link) {
	defer l.wg.Done()
	for {
		line, err := l.events.Next(l.ctx, 0)
		if err != nil {
			return
		}
		s.handleStatus(l, line)
	}
}

func (s *Session) handleStatus(l *link, line []byte) {
	msg, err := protocol.ParseStatus(line)
	if err != nil {
		slog.Warn("[SESSION] ignoring status", "error", err)
		return
	}
	slog.Debug("[SESSION] status received", "message", fmt.Sprintf("%+v", msg))

	switch m := msg.(type) {
	case protocol.UsageReport:
		s.status.setUsage(m.Percent)
		s.metrics.SetDeviceUsage(m.Percent)
		s.announce("Device ready to transfer.")

	case protocol.BatchAnnounce:
		text := fmt.Sprintf("Batch of %d images incoming. Acknowledging.", m.Count)
		slog.Info("[SESSION] " + text)
		s.status.setText(text)
		if err := l.command.Write(protocol.CmdAcknowledge, false); err != nil {
			slog.Warn("[SESSION] batch acknowledgement failed", "error", err)
		}

	case protocol.ImageAnnounce:
		s.startTransfer(l, m.Size)
	}
}

// announce sets the status text unless a settings change is waiting, so the
// queued message stays visible until it is sent.
func (s *Session) announce(text string) {
	if s.queue.Pending() {
		return
	}
	s.status.setText(text)
}

func (s *Session) setState(state State) {
	s.status.setState(state)
	s.metrics.SetState(state.String())
}

// sleepCtx pauses for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// isLinkError reports whether err came from the link going away rather than
// the device misbehaving.
func isLinkError(err error) bool {
	return errors.Is(err, ble.ErrNotConnected) || errors.Is(err, context.Canceled)
}
