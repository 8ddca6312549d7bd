package ble

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by writes on a link that has dropped.
var ErrNotConnected = errors.New("ble: not connected")

// ErrWriteWithResponse is returned on platforms whose BLE stack only offers
// writes without response.
var ErrWriteWithResponse = errors.New("ble: write with response not supported on this platform")

// DefaultScanFilter matches the capture camera by its advertised service or
// by one of the given firmware names.
func DefaultScanFilter(names []string) ScanFilter {
	return ScanFilter{
		ServiceUUID:    ServiceUUID,
		NameSubstrings: names,
	}
}

// ScanForDevices scans for the whole timeout window and returns every device
// accepted by filter.
func ScanForDevices(adapter Adapter, filter ScanFilter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// FindDevice scans until the first device accepted by filter shows up or the
// window closes. It reports false when nothing matched.
func FindDevice(ctx context.Context, adapter Adapter, filter ScanFilter, window time.Duration) (Device, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	filter.Limit = 1
	devices, err := adapter.Scan(ctx, filter)
	if err != nil {
		return Device{}, false, err
	}
	if len(devices) == 0 {
		return Device{}, false, nil
	}
	return devices[0], true, nil
}
