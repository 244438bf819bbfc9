package idcapture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/blobstore"
	"github.com/clicare/kiosk/internal/platform/camera"
)

// CameraOwner is the lease name ID capture acquires the camera under.
const CameraOwner = "id-capture"

// State is a step of the capture state machine.
type State string

const (
	StateIdle          State = "idle"
	StateCameraOpening State = "camera-opening"
	StateCameraReady   State = "camera-ready"
	StateCapturing     State = "capturing"
	StateOCRProcessing State = "ocr-processing"
	StateMerged        State = "merged"
	StateFailed        State = "failed"
)

const unreadableMessage = "We could not read your ID. Please retake the photo or enter your details manually."

var (
	ErrIDTypeRequired     = errors.New("please select an ID type before capturing")
	ErrUnsupportedIDType  = errors.New("unsupported ID type")
	ErrAlreadyOpen        = errors.New("id capture already open")
	ErrNotOpen            = errors.New("id capture is not open")
	ErrCaptureUnavailable = errors.New("the camera is not ready for a capture")
	ErrRetryUnavailable   = errors.New("nothing to retry")
)

// OCR recognizes fields on an ID photo.
type OCR interface {
	Extract(ctx context.Context, idType string, image []byte, contentType string) (map[string]string, error)
}

// Merger applies recognized fields to the registration form. imageID names
// the staged photo, or is empty when staging failed.
type Merger interface {
	MergeOCR(ctx context.Context, t IDType, fields map[string]string, imageID string) error
}

// Observer receives capture outcomes (merged, failed).
type Observer interface {
	ObserveOCR(outcome string)
}

// Snapshot is the externally visible capture state.
type Snapshot struct {
	State    State             `json:"state"`
	IDType   IDType            `json:"id_type,omitempty"`
	Error    string            `json:"error,omitempty"`
	CanRetry bool              `json:"can_retry"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Config tunes the actor.
type Config struct {
	// ReadyPoll is how often the camera is checked for a usable frame.
	ReadyPoll time.Duration
	SessionID string
}

type cmdKind int

const (
	cmdCapture cmdKind = iota
	cmdRetry
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Capture runs one ID capture modal at a time as an actor goroutine. The
// goroutine owns the camera lease and the staged photo; Capture and Retry
// reach it over a command channel and Close cancels it.
type Capture struct {
	cfg      Config
	camera   *camera.Manager
	ocr      OCR
	images   blobstore.BlobStore
	merger   Merger
	observer Observer
	logger   zerolog.Logger

	mu     sync.Mutex
	snap   Snapshot
	cmds   chan command
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a capture actor.
func New(cfg Config, cam *camera.Manager, ocr OCR, images blobstore.BlobStore, m Merger, logger zerolog.Logger) *Capture {
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = 100 * time.Millisecond
	}
	return &Capture{
		cfg:    cfg,
		camera: cam,
		ocr:    ocr,
		images: images,
		merger: m,
		logger: logger.With().Str("component", "idcapture").Str("session_id", cfg.SessionID).Logger(),
		snap:   Snapshot{State: StateIdle},
	}
}

// SetObserver attaches an outcome observer.
func (c *Capture) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Open starts the modal for the chosen ID type. ctx bounds the whole session.
func (c *Capture) Open(ctx context.Context, t IDType) error {
	if t == "" {
		return ErrIDTypeRequired
	}
	if !t.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedIDType, t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
			c.cancel()
		default:
			return ErrAlreadyOpen
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.cmds = make(chan command)
	c.snap = Snapshot{State: StateCameraOpening, IDType: t}
	go c.run(runCtx, t, c.cmds, c.done)
	return nil
}

// Capture takes the current frame. It returns once the frame is accepted;
// OCR continues in the background and is visible through Snapshot.
func (c *Capture) Capture() error {
	return c.send(cmdCapture)
}

// Retry tears the failed session down and opens the camera again.
func (c *Capture) Retry() error {
	return c.send(cmdRetry)
}

func (c *Capture) send(kind cmdKind) error {
	c.mu.Lock()
	cmds, done := c.cmds, c.done
	c.mu.Unlock()
	if done == nil {
		return ErrNotOpen
	}

	reply := make(chan error, 1)
	select {
	case cmds <- command{kind: kind, reply: reply}:
	case <-done:
		return ErrNotOpen
	}
	select {
	case err := <-reply:
		return err
	case <-done:
		return ErrNotOpen
	}
}

// Close stops the modal, releases the camera and drops any photo that was
// not merged. It is safe to call when nothing is open.
func (c *Capture) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.cmds = nil
	c.snap = Snapshot{State: StateIdle}
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Capture) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Capture) set(s Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

func (c *Capture) state() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.State
}

func (c *Capture) observe(outcome string) {
	c.mu.Lock()
	o := c.observer
	c.mu.Unlock()
	if o != nil {
		o.ObserveOCR(outcome)
	}
}

func (c *Capture) fail(t IDType, msg string) {
	c.set(Snapshot{State: StateFailed, IDType: t, Error: msg, CanRetry: true})
	c.observe("failed")
}

func (c *Capture) run(ctx context.Context, t IDType, cmds <-chan command, done chan struct{}) {
	defer close(done)

	var (
		lease  *camera.Lease
		staged string
	)
	// teardown is the only place the camera is released.
	teardown := func() {
		if lease != nil {
			lease.Close()
			lease = nil
		}
	}
	discard := func() {
		if staged != "" {
			if err := c.images.Delete(context.Background(), staged); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
				c.logger.Warn().Err(err).Str("image_id", staged).Msg("discard staged id image")
			}
			staged = ""
		}
	}
	defer func() {
		teardown()
		discard()
	}()

	open := func() {
		c.set(Snapshot{State: StateCameraOpening, IDType: t})
		l, err := c.camera.Acquire(ctx, CameraOwner)
		if err != nil {
			c.logger.Warn().Err(err).Msg("camera unavailable for id capture")
			c.fail(t, camera.Message(err))
			return
		}
		lease = l
	}
	open()

	poll := time.NewTicker(c.cfg.ReadyPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-poll.C:
			if lease == nil {
				continue
			}
			_, err := lease.Frame()
			switch {
			case err == nil:
				if c.state() == StateCameraOpening {
					c.set(Snapshot{State: StateCameraReady, IDType: t})
				}
			case errors.Is(err, camera.ErrNotReady):
			default:
				teardown()
				c.fail(t, camera.Message(err))
			}

		case cmd := <-cmds:
			switch cmd.kind {
			case cmdCapture:
				if lease == nil || c.state() != StateCameraReady {
					cmd.reply <- ErrCaptureUnavailable
					continue
				}
				frame, err := lease.Frame()
				if err != nil {
					if !errors.Is(err, camera.ErrNotReady) {
						teardown()
						c.fail(t, camera.Message(err))
					}
					cmd.reply <- err
					continue
				}
				cmd.reply <- nil

				fields, ok := c.process(ctx, t, frame, &staged)
				if ctx.Err() != nil {
					return
				}
				teardown()
				if !ok {
					discard()
					continue
				}
				c.set(Snapshot{State: StateMerged, IDType: t, Fields: fields})
				c.observe("merged")
				return

			case cmdRetry:
				if c.state() != StateFailed {
					cmd.reply <- ErrRetryUnavailable
					continue
				}
				teardown()
				discard()
				cmd.reply <- nil
				open()
			}
		}
	}
}

// process stages the frame, runs OCR and merges the result. It reports the
// merged fields and whether the merge happened.
func (c *Capture) process(ctx context.Context, t IDType, frame *camera.Frame, staged *string) (map[string]string, bool) {
	c.set(Snapshot{State: StateCapturing, IDType: t})

	raw, contentType, err := frameBytes(frame)
	if err != nil {
		c.fail(t, unreadableMessage)
		return nil, false
	}

	meta, err := c.images.Upload(ctx, blobstore.BlobMetadata{
		FileName:    string(t) + extension(contentType),
		ContentType: contentType,
		SessionID:   c.cfg.SessionID,
		IDType:      string(t),
	}, bytes.NewReader(raw))
	if err != nil {
		c.logger.Warn().Err(err).Msg("stage id image")
	} else {
		*staged = meta.ID
	}

	c.set(Snapshot{State: StateOCRProcessing, IDType: t})
	recognized, err := c.ocr.Extract(ctx, string(t), raw, contentType)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Info().Err(err).Str("id_type", string(t)).Msg("ocr failed")
			c.fail(t, unreadableMessage)
		}
		return nil, false
	}

	fields := Filter(t, recognized)
	if len(fields) == 0 {
		c.fail(t, unreadableMessage)
		return nil, false
	}
	if err := c.merger.MergeOCR(ctx, t, fields, *staged); err != nil {
		c.logger.Warn().Err(err).Msg("merge ocr fields")
		c.fail(t, "Unable to apply the details from your ID. Please enter them manually.")
		return nil, false
	}
	// the merged photo now belongs to the wizard, even if ctx is done
	*staged = ""
	return fields, true
}

func frameBytes(f *camera.Frame) ([]byte, string, error) {
	if len(f.Raw) > 0 && blobstore.AllowedContentTypes[f.ContentType] {
		return f.Raw, f.ContentType, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}

func extension(contentType string) string {
	return "." + strings.TrimPrefix(contentType, "image/")
}
