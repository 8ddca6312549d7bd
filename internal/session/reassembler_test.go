package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// scriptedSource hands out fixed chunks, then times out.
type scriptedSource struct {
	chunks [][]byte
	waits  int
}

func (s *scriptedSource) Next(ctx context.Context, _ time.Duration) ([]byte, error) {
	s.waits++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.chunks) == 0 {
		return nil, ErrChunkTimeout
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestReassembleZeroSize(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(10, 1)}}
	requests := 0

	data, err := Reassemble(context.Background(), 0, src, func() error { requests++; return nil }, time.Second)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("len(data) = %d, want 0", len(data))
	}
	if src.waits != 0 {
		t.Errorf("chunk waits = %d, want 0", src.waits)
	}
	if requests != 0 {
		t.Errorf("next requests = %d, want 0", requests)
	}
}

func TestReassembleRequestsOneFewerThanChunks(t *testing.T) {
	chunks := [][]byte{filled(300, 'a'), filled(300, 'b'), filled(424, 'c')}
	src := &scriptedSource{chunks: append([][]byte(nil), chunks...)}
	requests := 0

	data, err := Reassemble(context.Background(), 1024, src, func() error { requests++; return nil }, time.Second)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if requests != 2 {
		t.Errorf("next requests = %d, want 2", requests)
	}
	want := bytes.Join(chunks, nil)
	if !bytes.Equal(data, want) {
		t.Errorf("data is not the concatenation of the chunks (len %d, want %d)", len(data), len(want))
	}
}

func TestReassembleSingleChunk(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(200, 'x')}}
	requests := 0

	data, err := Reassemble(context.Background(), 200, src, func() error { requests++; return nil }, time.Second)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if requests != 0 {
		t.Errorf("next requests = %d, want 0", requests)
	}
	if len(data) != 200 {
		t.Errorf("len(data) = %d, want 200", len(data))
	}
}

func TestReassembleKeepsExcessBytes(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(300, 'a'), filled(300, 'b'), filled(300, 'c')}}
	requests := 0

	data, err := Reassemble(context.Background(), 500, src, func() error { requests++; return nil }, time.Second)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if len(data) != 600 {
		t.Errorf("len(data) = %d, want 600", len(data))
	}
	if requests != 1 {
		t.Errorf("next requests = %d, want 1", requests)
	}
}

func TestReassembleFirstChunkTimeout(t *testing.T) {
	q := newByteQueue()
	requests := 0

	data, err := Reassemble(context.Background(), 1024, q, func() error { requests++; return nil }, 20*time.Millisecond)
	if !errors.Is(err, ErrChunkTimeout) {
		t.Fatalf("Reassemble() error = %v, want ErrChunkTimeout", err)
	}
	var terr *ChunkTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not a *ChunkTimeoutError", err)
	}
	if terr.Received != 0 || terr.Expected != 1024 {
		t.Errorf("ChunkTimeoutError = %+v, want 0/1024", terr)
	}
	if len(data) != 0 {
		t.Errorf("len(data) = %d, want 0", len(data))
	}
	if requests != 0 {
		t.Errorf("next requests = %d, want 0", requests)
	}
}

func TestReassembleTimeoutReportsPartialCount(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(300, 'a'), filled(300, 'b')}}

	data, err := Reassemble(context.Background(), 1024, src, func() error { return nil }, time.Second)
	var terr *ChunkTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Reassemble() error = %v, want *ChunkTimeoutError", err)
	}
	if terr.Received != 600 {
		t.Errorf("Received = %d, want 600", terr.Received)
	}
	if len(data) != 600 {
		t.Errorf("len(data) = %d, want 600", len(data))
	}
}

func TestReassembleRequestFailureAborts(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(100, 'a'), filled(100, 'b')}}
	writeErr := errors.New("link down")

	_, err := Reassemble(context.Background(), 200, src, func() error { return writeErr }, time.Second)
	if !errors.Is(err, writeErr) {
		t.Fatalf("Reassemble() error = %v, want %v", err, writeErr)
	}
	if src.waits != 1 {
		t.Errorf("chunk waits = %d, want 1 (no wait after a failed request)", src.waits)
	}
}

func TestReassembleContextCancelled(t *testing.T) {
	q := newByteQueue()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Reassemble(ctx, 100, q, func() error { return nil }, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Reassemble() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrChunkTimeout) {
		t.Error("cancellation should not be reported as a chunk timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Reassemble() did not stop on cancellation")
	}
}

func TestReassemblePullsFromQueue(t *testing.T) {
	q := newByteQueue()
	pending := [][]byte{filled(100, 'b'), filled(50, 'c')}

	q.Put(filled(100, 'a')) // pushed by the device after the acknowledgement
	data, err := Reassemble(context.Background(), 250, q, func() error {
		q.Put(pending[0])
		pending = pending[1:]
		return nil
	}, time.Second)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if len(data) != 250 || data[0] != 'a' || data[100] != 'b' || data[249] != 'c' {
		t.Errorf("unexpected data: len=%d", len(data))
	}
}

func TestReassembleHugeAnnouncedSize(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{filled(100, 1)}}

	data, err := Reassemble(context.Background(), math.MaxInt, src, func() error { return nil }, time.Second)
	if !errors.Is(err, ErrChunkTimeout) {
		t.Fatalf("Reassemble() error = %v, want ErrChunkTimeout", err)
	}
	if len(data) != 100 {
		t.Errorf("len(data) = %d, want 100", len(data))
	}
	if cap(data) > maxPrealloc {
		t.Errorf("cap(data) = %d, want at most %d", cap(data), maxPrealloc)
	}
}
