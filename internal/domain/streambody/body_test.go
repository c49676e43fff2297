package streambody

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type slowReader struct {
	delay time.Duration
	data  []byte
	off   int
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

func (s *slowReader) Close() error { return nil }

func TestForwardCopiesAllBytesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	payload := bytes.Repeat([]byte("x"), 5*frameSize+17)
	src := &slowReader{data: payload}
	body := New(src, time.Second, time.Minute, nil, nil)

	var dst bytes.Buffer
	n, err := Forward(&dst, body, time.Second)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	if !bytes.Equal(dst.Bytes(), payload) {
		t.Fatal("forwarded bytes do not match source")
	}
}

func TestFrameTimeoutClosesUpstream(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &slowReader{delay: 50 * time.Millisecond, data: []byte("hello")}
	body := New(src, 5*time.Millisecond, time.Minute, nil, nil)

	_, err := body.Read(make([]byte, 16))
	if !errors.Is(err, ErrFrameTimeout) {
		t.Fatalf("expected ErrFrameTimeout, got %v", err)
	}
	// Let the still-sleeping background read goroutine finish delivering to
	// its buffered result channel before the leak check runs.
	time.Sleep(60 * time.Millisecond)
}

func TestCancellationStopsForwarding(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &slowReader{delay: 10 * time.Millisecond, data: bytes.Repeat([]byte("y"), 10*frameSize)}
	cancel := make(chan struct{})
	body := New(src, time.Second, time.Minute, cancel, nil)

	go func() {
		time.Sleep(15 * time.Millisecond)
		close(cancel)
	}()

	var dst bytes.Buffer
	_, err := Forward(&dst, body, time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
}

type slowWriter struct {
	delay time.Duration
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return len(p), nil
}

func TestWriteTimeoutAbortsForward(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &slowReader{data: []byte("hello")}
	body := New(src, time.Second, time.Minute, nil, nil)

	_, err := Forward(&slowWriter{delay: 50 * time.Millisecond}, body, 5*time.Millisecond)
	if !errors.Is(err, ErrFrameTimeout) {
		t.Fatalf("expected ErrFrameTimeout, got %v", err)
	}
	// Let the still-sleeping background write goroutine finish delivering to
	// its buffered result channel before the leak check runs.
	time.Sleep(60 * time.Millisecond)
}

func TestOnBytesCallbackReceivesFrameSizes(t *testing.T) {
	defer goleak.VerifyNone(t)

	payload := bytes.Repeat([]byte("z"), 100)
	src := &slowReader{data: payload}
	var total int
	body := New(src, time.Second, time.Minute, nil, func(n int) { total += n })

	var dst bytes.Buffer
	if _, err := Forward(&dst, body, time.Second); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if total != len(payload) {
		t.Fatalf("expected onBytes total %d, got %d", len(payload), total)
	}
}
