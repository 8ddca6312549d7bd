//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// BlueZ support in tinygo-org/bluetooth has no acknowledged write.
func writeWithResponse(_ bluetooth.DeviceCharacteristic, _ []byte) error {
	return ErrWriteWithResponse
}
