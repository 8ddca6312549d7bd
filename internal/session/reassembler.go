package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const maxPrealloc = 64 << 10

// ChunkSource yields data chunks in arrival order.
type ChunkSource interface {
	// Next waits up to timeout for the next chunk. It returns ErrChunkTimeout
	// when nothing arrives in time.
	Next(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// ChunkTimeoutError reports a transfer abandoned because a chunk did not
// arrive in time.
type ChunkTimeoutError struct {
	Received int
	Expected int
}

func (e *ChunkTimeoutError) Error() string {
	return fmt.Sprintf("session: timed out waiting for chunk at %d/%d bytes", e.Received, e.Expected)
}

func (e *ChunkTimeoutError) Unwrap() error { return ErrChunkTimeout }

// Reassemble collects expected bytes from chunks. The device pushes the first
// chunk on its own after the transfer is acknowledged; every later chunk is
// pulled by calling requestNext once. Each wait is bounded by timeout.
//
// On failure the bytes received so far are returned alongside the error.
// Bytes past expected are kept.
func Reassemble(ctx context.Context, expected int, chunks ChunkSource, requestNext func() error, timeout time.Duration) ([]byte, error) {
	if expected <= 0 {
		return []byte{}, nil
	}

	// expected comes off the wire; grow past maxPrealloc by appending.
	buf := make([]byte, 0, min(expected, maxPrealloc))

	chunk, err := chunks.Next(ctx, timeout)
	if err != nil {
		return buf, waitError(err, len(buf), expected)
	}
	buf = append(buf, chunk...)

	for len(buf) < expected {
		if err := requestNext(); err != nil {
			return buf, fmt.Errorf("session: request chunk at %d/%d bytes: %w", len(buf), expected, err)
		}
		chunk, err := chunks.Next(ctx, timeout)
		if err != nil {
			return buf, waitError(err, len(buf), expected)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

func waitError(err error, received, expected int) error {
	if errors.Is(err, ErrChunkTimeout) {
		return &ChunkTimeoutError{Received: received, Expected: expected}
	}
	return fmt.Errorf("session: wait for chunk at %d/%d bytes: %w", received, expected, err)
}
