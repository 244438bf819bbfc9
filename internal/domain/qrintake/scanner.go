package qrintake

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/camera"
)

// CameraOwner is the lease name the scanner acquires the camera under.
const CameraOwner = "qr"

// State is a step of the scan state machine.
type State string

const (
	StateIdle          State = "idle"
	StateCameraOpening State = "camera-opening"
	StateScanning      State = "scanning"
	StateDecoded       State = "decoded"
	StateValidating    State = "validating"
	StateMerged        State = "merged"
	StateRejected      State = "rejected"
	StateTimeout       State = "timeout"
	StateFailed        State = "failed"
)

// TimeoutMessage is surfaced when no code decodes before the scan ceiling.
const TimeoutMessage = "QR scan timed out. Please try again."

var ErrAlreadyOpen = errors.New("qr scanner already open")

// Decoder extracts QR text from an image. It returns ErrNoCode when the
// image contains no readable code.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// Merger applies an accepted payload to the wizard.
type Merger interface {
	MergeQR(ctx context.Context, p *Payload) error
}

// Observer receives scan outcomes (merged, rejected, timeout, failed).
type Observer interface {
	ObserveQRScan(outcome string)
}

// Snapshot is the externally visible scanner state.
type Snapshot struct {
	State   State      `json:"state"`
	Error   string     `json:"error,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Payload *Payload   `json:"payload,omitempty"`
	Opened  *time.Time `json:"opened_at,omitempty"`
}

// Config tunes the scan loop.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

// Scanner runs one QR scan session at a time as an actor goroutine. The
// goroutine owns the camera lease and every state transition; Close is the
// only way in from the outside.
type Scanner struct {
	cfg      Config
	camera   *camera.Manager
	decoder  Decoder
	merger   Merger
	context  func() ValidationContext
	observer Observer
	logger   zerolog.Logger

	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner wires a scanner. vc is called before every validation to read
// the current flow and logged-in patient.
func NewScanner(cfg Config, cam *camera.Manager, dec Decoder, m Merger, vc func() ValidationContext, logger zerolog.Logger) *Scanner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scanner{
		cfg:     cfg,
		camera:  cam,
		decoder: dec,
		merger:  m,
		context: vc,
		logger:  logger.With().Str("component", "qrintake").Logger(),
		snap:    Snapshot{State: StateIdle},
	}
}

// SetObserver attaches an outcome observer.
func (s *Scanner) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Open starts a scan session. ctx bounds the whole session, not the call.
func (s *Scanner) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			s.cancel()
		default:
			return ErrAlreadyOpen
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	now := s.cfg.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.snap = Snapshot{State: StateCameraOpening, Opened: &now}
	go s.run(runCtx, s.done)
	return nil
}

// Close stops a running session, waits for the camera to be released and
// returns the scanner to idle. It is safe to call when nothing is running.
func (s *Scanner) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.snap = Snapshot{State: StateIdle}
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Scanner) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Running reports whether a scan goroutine is live.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Scanner) set(snap Snapshot) {
	s.mu.Lock()
	snap.Opened = s.snap.Opened
	s.snap = snap
	s.mu.Unlock()
}

func (s *Scanner) observe(outcome string) {
	s.mu.Lock()
	o := s.observer
	s.mu.Unlock()
	if o != nil {
		o.ObserveQRScan(outcome)
	}
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	lease, err := s.camera.Acquire(ctx, CameraOwner)
	if err != nil {
		s.logger.Warn().Err(err).Msg("camera unavailable for qr scan")
		s.set(Snapshot{State: StateFailed, Error: camera.Message(err)})
		s.observe("failed")
		return
	}

	final := s.scan(ctx, lease)
	lease.Close()

	if ctx.Err() != nil && final.State == StateIdle {
		return
	}
	s.set(final)
	s.observe(string(final.State))
}

// scan polls frames until a payload merges, the ceiling elapses, the camera
// fails or ctx is cancelled. It returns the terminal snapshot.
func (s *Scanner) scan(ctx context.Context, lease *camera.Lease) Snapshot {
	s.set(Snapshot{State: StateScanning})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()

	var lastText string
	for {
		select {
		case <-ctx.Done():
			return Snapshot{State: StateIdle}
		case <-deadline.C:
			return Snapshot{State: StateTimeout, Error: TimeoutMessage}
		case <-ticker.C:
		}

		frame, err := lease.Frame()
		if errors.Is(err, camera.ErrNotReady) {
			continue
		}
		if err != nil {
			return Snapshot{State: StateFailed, Error: camera.Message(err)}
		}

		text, err := s.decoder.Decode(frame.Image)
		if err != nil || text == "" || text == lastText {
			continue
		}
		lastText = text
		s.set(Snapshot{State: StateDecoded})

		p, err := Parse(text)
		if err != nil {
			s.rejected(reject(ReasonFormat, "Invalid QR code. Please scan a CLICARE QR code."))
			continue
		}

		s.set(Snapshot{State: StateValidating, Payload: p})
		vc := s.context()
		vc.Now = s.cfg.Now()
		if err := Validate(p, vc); err != nil {
			var rej *RejectError
			if !errors.As(err, &rej) {
				rej = reject(ReasonFormat, err.Error())
			}
			s.rejected(rej)
			continue
		}

		if err := s.merger.MergeQR(ctx, p); err != nil {
			if ctx.Err() != nil {
				return Snapshot{State: StateIdle}
			}
			s.logger.Warn().Err(err).Str("type", string(p.Type)).Msg("qr merge failed")
			s.rejected(reject(ReasonFetch, "Unable to load the data for this QR code. Please try again."))
			// the same code may be retried after a fetch failure
			lastText = ""
			continue
		}

		s.logger.Info().Str("type", string(p.Type)).Str("id", p.Identifier()).Msg("qr payload merged")
		return Snapshot{State: StateMerged, Payload: p}
	}
}

func (s *Scanner) rejected(rej *RejectError) {
	s.logger.Debug().Str("reason", rej.Reason).Msg("qr payload rejected")
	s.set(Snapshot{State: StateRejected, Error: rej.Message, Reason: rej.Reason})
	s.observe("rejected")
}
