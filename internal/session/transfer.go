package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/capture-gateway/internal/ble/protocol"
	"github.com/chaz8081/capture-gateway/internal/metrics"
)

// startTransfer claims the transfer slot and receives the image in the
// background. An announce that arrives while a transfer is running is
// refused: two readers on the chunk queue would interleave each other's data.
func (s *Session) startTransfer(l *link, size int) {
	if size > s.opts.MaxImageBytes {
		slog.Warn("[SESSION] announced image too large, ignoring", "size", size, "max", s.opts.MaxImageBytes)
		s.metrics.ObserveTransfer(metrics.TransferRejected, 0)
		s.status.setText("Image transfer failed")
		return
	}
	if !l.transferBusy.CompareAndSwap(false, true) {
		slog.Warn("[SESSION] image announced during a transfer, ignoring", "size", size)
		s.metrics.ObserveTransfer(metrics.TransferRejected, 0)
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if s.status.swapState(Ready, Transferring) {
			s.metrics.SetState(Transferring.String())
		}

		text := s.transfer(l, size)

		// Free the slot before publishing the outcome so a reader that sees
		// the final text can immediately start another transfer.
		l.transferBusy.Store(false)
		if s.status.swapState(Transferring, Ready) {
			s.metrics.SetState(Ready.String())
		}
		s.status.setText(text)
	}()
}

// transfer acknowledges the announce, reassembles the image and stores it. It
// returns the status text describing the outcome.
func (s *Session) transfer(l *link, size int) string {
	slog.Info("[SESSION] receiving image", "size", size)
	s.status.setText(fmt.Sprintf("Receiving image (%d bytes)...", size))

	// Chunks left over from an abandoned transfer must not lead this one.
	if n := s.chunks.Reset(); n > 0 {
		slog.Debug("[SESSION] dropped stale chunks", "count", n)
	}

	if err := l.command.Write(protocol.CmdAcknowledge, false); err != nil {
		slog.Warn("[SESSION] image acknowledgement failed", "error", err)
		s.metrics.ObserveTransfer(metrics.TransferFailed, 0)
		return "Image transfer failed due to connection error."
	}

	start := time.Now()
	data, err := Reassemble(l.ctx, size, s.chunks, func() error {
		return l.command.Write(protocol.CmdNextChunk, false)
	}, s.opts.ChunkTimeout)
	if err != nil {
		slog.Warn("[SESSION] image transfer failed", "received", len(data), "expected", size, "error", err)
		s.metrics.ObserveTransfer(metrics.TransferFailed, len(data))
		if isLinkError(err) {
			return "Image transfer failed due to connection error."
		}
		return "Image transfer failed"
	}

	// A link that dropped while the last chunk was in flight invalidates the
	// transfer even if the byte count is complete.
	if l.ctx.Err() != nil {
		slog.Warn("[SESSION] link lost, discarding image", "received", len(data))
		s.metrics.ObserveTransfer(metrics.TransferDropped, len(data))
		return "Image transfer failed due to connection error."
	}

	if size == 0 {
		slog.Info("[SESSION] empty image announced, nothing to store")
		return "Device sent an empty image."
	}

	slog.Info("[SESSION] image transfer complete",
		"bytes", len(data), "elapsed", time.Since(start).Round(time.Millisecond))

	takenAt := s.now()
	filename := captureFilename(takenAt)

	path, err := s.store.Save(l.parent, data, filename)
	if err != nil {
		slog.Error("[SESSION] saving image failed", "file", filename, "error", err)
		s.metrics.ObserveTransfer(metrics.TransferFailed, len(data))
		return "Image transfer failed: could not store image"
	}
	s.metrics.ObserveTransfer(metrics.TransferSaved, len(data))

	if err := s.store.RecordCapture(l.parent, takenAt, path); err != nil {
		slog.Error("[SESSION] recording capture failed", "path", path, "error", err)
		return fmt.Sprintf("Image saved without metadata: %s", filename)
	}

	slog.Info("[SESSION] image saved", "path", path)
	return fmt.Sprintf("Image saved: %s", filename)
}

// captureFilename names an image after its arrival time with microsecond
// resolution, e.g. 2024-05-01_13-04-05-123456.jpg.
func captureFilename(t time.Time) string {
	return fmt.Sprintf("%s-%06d.jpg", t.Format("2006-01-02_15-04-05"), t.Nanosecond()/1000)
}
