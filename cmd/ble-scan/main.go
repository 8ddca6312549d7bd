// Command ble-scan lists nearby capture cameras. It is a manual check that
// the Bluetooth adapter works and the camera is advertising.
//
// Usage:
//
//	go run ./cmd/ble-scan [--timeout 10s] [--all]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/capture-gateway/internal/ble"
	"github.com/chaz8081/capture-gateway/internal/session"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "scan duration")
	names := flag.String("names", strings.Join(session.DefaultOptions().DeviceNames, ","), "comma-separated device name substrings")
	all := flag.Bool("all", false, "list every advertising device")
	flag.Parse()

	filter := ble.DefaultScanFilter(strings.Split(*names, ","))
	if *all {
		filter = ble.ScanFilter{}
	}

	fmt.Printf("Scanning for %s...\n", *timeout)

	devices, err := ble.ScanForDevices(ble.NewBluetoothAdapter(), filter, *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-24s %s  RSSI %d\n", name, d.Address, d.RSSI)
	}
	fmt.Printf("\n%d device(s) found.\n", len(devices))
}
