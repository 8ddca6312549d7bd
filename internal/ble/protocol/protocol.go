// Package protocol implements the text wire format spoken by the capture
// camera firmware: single-byte commands, status lines and config payloads.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Command bytes written to the command characteristic. These must match the
// firmware exactly.
var (
	CmdNextChunk   = []byte{'N'}
	CmdAcknowledge = []byte{'A'}
	CmdReady       = []byte{'R'}
)

// Status line prefixes sent on the status characteristic.
const (
	prefixUsage = "PSRAM:"
	prefixBatch = "COUNT:"
	prefixImage = "IMAGE:"
)

// ErrUnknownStatus is returned for status lines with an unrecognised prefix.
var ErrUnknownStatus = errors.New("protocol: unknown status message")

// Status is a decoded status notification. It is one of UsageReport,
// BatchAnnounce or ImageAnnounce.
type Status interface {
	isStatus()
}

// UsageReport carries the device's frame-buffer memory usage.
type UsageReport struct {
	Percent float64
}

// BatchAnnounce precedes a batch of image transfers.
type BatchAnnounce struct {
	Count int
}

// ImageAnnounce starts the transfer of a single image of Size bytes.
type ImageAnnounce struct {
	Size int
}

func (UsageReport) isStatus()   {}
func (BatchAnnounce) isStatus() {}
func (ImageAnnounce) isStatus() {}

// ParseStatus decodes one status notification payload.
func ParseStatus(data []byte) (Status, error) {
	line := strings.TrimSpace(string(data))

	switch {
	case strings.HasPrefix(line, prefixUsage):
		raw := strings.TrimSuffix(strings.TrimSpace(line[len(prefixUsage):]), "%")
		pct, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("protocol: parse usage %q: %w", line, err)
		}
		// ParseFloat accepts NaN and Inf, which cannot be encoded as JSON.
		if math.IsNaN(pct) || pct < 0 || pct > 100 {
			return nil, fmt.Errorf("protocol: usage %q out of range 0..100", line)
		}
		return UsageReport{Percent: pct}, nil

	case strings.HasPrefix(line, prefixBatch):
		n, err := parseCount(line[len(prefixBatch):])
		if err != nil {
			return nil, fmt.Errorf("protocol: parse batch %q: %w", line, err)
		}
		return BatchAnnounce{Count: n}, nil

	case strings.HasPrefix(line, prefixImage):
		n, err := parseCount(line[len(prefixImage):])
		if err != nil {
			return nil, fmt.Errorf("protocol: parse image %q: %w", line, err)
		}
		return ImageAnnounce{Size: n}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, line)
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// EncodeConfig builds the config characteristic payload "F:<freq>,T:<thresh>".
func EncodeConfig(frequencySeconds, thresholdPercent int) []byte {
	return []byte(fmt.Sprintf("F:%d,T:%d", frequencySeconds, thresholdPercent))
}
