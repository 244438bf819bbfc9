package camera

import (
	"context"
	"sync"
)

// FrameBuffer is a Device fed by the kiosk browser: frames arrive over HTTP via
// Push and device failures via Fail. Only the latest frame is kept.
type FrameBuffer struct {
	mu      sync.Mutex
	latest  *Frame
	failure error
	open    bool
	gen     uint64
}

// NewFrameBuffer returns an idle frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Push stores f as the latest frame. Frames arriving while no stream is open
// are dropped.
func (b *FrameBuffer) Push(f *Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	b.latest = f
	return true
}

// Fail records a device error reported by the browser. An open stream reports
// it from Frame; otherwise the next Open returns it.
func (b *FrameBuffer) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// Streaming reports whether a stream is currently open.
func (b *FrameBuffer) Streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Open implements Device. A pending failure is returned once and then cleared
// so a user-initiated retry starts clean.
func (b *FrameBuffer) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		err := b.failure
		b.failure = nil
		return nil, err
	}
	if b.open {
		return nil, ErrDeviceBusy
	}
	b.open = true
	b.latest = nil
	b.gen++
	return &bufferStream{buf: b, gen: b.gen}, nil
}

type bufferStream struct {
	buf *FrameBuffer
	gen uint64
}

func (s *bufferStream) Frame() (*Frame, error) {
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open || b.gen != s.gen {
		return nil, ErrClosed
	}
	if b.failure != nil {
		return nil, b.failure
	}
	if b.latest.Empty() {
		return nil, ErrNotReady
	}
	return b.latest, nil
}

// Close detaches the stream and drops any buffered frame or failure.
func (s *bufferStream) Close() error {
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != s.gen {
		return nil
	}
	b.open = false
	b.latest = nil
	b.failure = nil
	return nil
}
