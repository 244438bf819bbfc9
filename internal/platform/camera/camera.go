// Package camera models the kiosk's single camera as an exclusive resource.
// The kiosk browser owns the physical device and pushes frames to the gateway;
// the gateway hands out one lease at a time to either ID capture or QR intake.
package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	_ "golang.org/x/image/webp"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceBusy       = errors.New("camera is in use by another application")
	ErrNoDevice         = errors.New("no camera found")
	ErrNotReady         = errors.New("camera is not ready yet")
	ErrClosed           = errors.New("camera stream closed")
	ErrLeaseHeld        = errors.New("camera is already open in another window")
	ErrFrameTooLarge    = errors.New("camera frame dimensions exceed the supported size")
)

// Frames above these bounds are rejected from the image header alone, before
// the decoder allocates pixel storage.
const (
	MaxFrameSide   = 4096
	MaxFramePixels = 4096 * 3072
)

// ErrorFromKind maps the error kinds reported by the browser (the DOMException
// names of getUserMedia) onto the typed camera errors.
func ErrorFromKind(kind string) error {
	switch kind {
	case "NotAllowedError", "permission_denied", "SecurityError":
		return ErrPermissionDenied
	case "NotReadableError", "device_busy", "AbortError":
		return ErrDeviceBusy
	case "NotFoundError", "no_device", "OverconstrainedError":
		return ErrNoDevice
	default:
		return fmt.Errorf("camera error: %s", kind)
	}
}

// Message returns the text shown in the capture modal for a camera error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Please allow camera access or enter your details manually."
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, ErrLeaseHeld):
		return "The camera is busy. Close other camera windows and try again."
	case errors.Is(err, ErrNoDevice):
		return "No camera was found on this kiosk. Please enter your details manually."
	case errors.Is(err, ErrNotReady):
		return "The camera is still starting. Please wait a moment and try again."
	case err == nil:
		return ""
	default:
		return "Unable to use the camera. Please try again or enter your details manually."
	}
}

// Frame is one decoded camera image plus the encoded bytes it came from.
type Frame struct {
	Image       image.Image
	Raw         []byte
	ContentType string
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Image.Bounds().Empty()
}

// Stream is an open camera session.
type Stream interface {
	// Frame returns the most recent frame. ErrNotReady means no frame with a
	// non-zero size has arrived yet.
	Frame() (*Frame, error)
	Close() error
}

// Device opens camera streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// DecodeDataURL decodes a browser data URL (or bare base64) into a Frame.
func DecodeDataURL(data string) (*Frame, error) {
	contentType := ""
	payload := data
	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		meta := data[len("data:"):comma]
		contentType = strings.TrimSuffix(meta, ";base64")
		payload = data[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if cfg.Width > MaxFrameSide || cfg.Height > MaxFrameSide || cfg.Width*cfg.Height > MaxFramePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame image: %w", err)
	}
	if contentType == "" {
		contentType = "image/" + format
	}
	return &Frame{Image: img, Raw: raw, ContentType: contentType}, nil
}

// Manager hands out the camera to one owner at a time.
type Manager struct {
	mu     sync.Mutex
	device Device
	owner  string
	stream Stream
}

// NewManager wraps a device.
func NewManager(device Device) *Manager {
	return &Manager{device: device}
}

// Lease is an exclusive hold on the camera. Close is idempotent.
type Lease struct {
	m      *Manager
	owner  string
	stream Stream
	once   sync.Once
}

// Acquire opens the device for owner. It fails with ErrLeaseHeld while another
// owner holds a lease.
func (m *Manager) Acquire(ctx context.Context, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != "" {
		return nil, fmt.Errorf("%w (held by %s)", ErrLeaseHeld, m.owner)
	}
	stream, err := m.device.Open(ctx)
	if err != nil {
		return nil, err
	}
	m.owner = owner
	m.stream = stream
	return &Lease{m: m, owner: owner, stream: stream}, nil
}

// Owner returns the current lease holder, or "" when the camera is free.
func (m *Manager) Owner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Frame returns the latest frame of the leased stream.
func (l *Lease) Frame() (*Frame, error) {
	return l.stream.Frame()
}

// Owner returns the name the lease was acquired under.
func (l *Lease) Owner() string {
	return l.owner
}

// Close stops the stream and frees the camera for the next owner.
func (l *Lease) Close() error {
	var err error
	l.once.Do(func() {
		err = l.stream.Close()
		l.m.mu.Lock()
		if l.m.owner == l.owner {
			l.m.owner = ""
			l.m.stream = nil
		}
		l.m.mu.Unlock()
	})
	return err
}
