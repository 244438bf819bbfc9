package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/domain/idcapture"
	"github.com/clicare/kiosk/internal/domain/qrintake"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/blobstore"
	"github.com/clicare/kiosk/internal/platform/printing"
	"github.com/clicare/kiosk/internal/platform/session"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

var ErrSessionNotFound = errors.New("registration session not found")

const (
	bannerCatalogUnavailable = "Unable to load the symptom list. Please ask the front desk for help."
	bannerLookupsUnavailable = "Some options could not be loaded. Please ask the front desk for help."
)

// Backend is the part of the hospital API the wizard calls directly.
type Backend interface {
	DuplicateSource
	RegisterPatient(ctx context.Context, in *backend.RegisterRequest) (*backend.SubmissionResult, error)
	BookVisit(ctx context.Context, in *backend.VisitRequest) (*backend.SubmissionResult, error)
	TempRegistration(ctx context.Context, id string) (*backend.TempRegistration, error)
	HealthAssessment(ctx context.Context, id string) (*backend.HealthAssessmentRecord, error)
	UploadIDImage(ctx context.Context, in *backend.IDImageUpload) error
}

// CatalogSource serves the reference data loaded at session start.
type CatalogSource interface {
	MappingSource
	Symptoms(ctx context.Context) ([]backend.SymptomCategory, error)
	Lookups(ctx context.Context) (*backend.Lookups, error)
}

// Printer prints the registration receipt.
type Printer interface {
	Print(ctx context.Context, r printing.Receipt) (*printing.Job, error)
}

// Observer receives wizard outcomes. When it also implements the intake
// observers it is attached to the QR scanner and ID capture as well.
type Observer interface {
	ObserveSubmission(flow, outcome string)
	ObserveDuplicateCheck(outcome string)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Backend     Backend
	Catalog     CatalogSource
	OCR         idcapture.OCR
	Images      blobstore.BlobStore
	Decoder     qrintake.Decoder
	Printer     Printer
	Events      websocket.EventPublisher
	Submissions SubmissionRepository
	Handoffs    session.Store
	Observer    Observer
}

// Config tunes the sessions.
type Config struct {
	DuplicateDebounce time.Duration
	QRScanInterval    time.Duration
	QRScanTimeout     time.Duration
	SessionTTL        time.Duration
	DefaultDepartment string
	Now               func() time.Time
}

func (c *Config) defaults() {
	if c.DuplicateDebounce <= 0 {
		c.DuplicateDebounce = DefaultDuplicateDebounce
	}
	if c.QRScanInterval <= 0 {
		c.QRScanInterval = 300 * time.Millisecond
	}
	if c.QRScanTimeout <= 0 {
		c.QRScanTimeout = 30 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.DefaultDepartment == "" {
		c.DefaultDepartment = "Internal Medicine"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Service owns the live registration sessions of this gateway.
type Service struct {
	cfg    Config
	deps   Deps
	mapper *DepartmentMapper
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Wizard
}

func NewService(cfg Config, deps Deps, logger zerolog.Logger) *Service {
	cfg.defaults()
	logger = logger.With().Str("component", "registration").Logger()
	return &Service{
		cfg:      cfg,
		deps:     deps,
		mapper:   NewDepartmentMapper(deps.Catalog, cfg.DefaultDepartment, logger),
		logger:   logger,
		sessions: make(map[uuid.UUID]*Wizard),
	}
}

// CreateHandoff stores the record a terminal login or mobile pre-registration
// passes to the kiosk and returns its key.
func (s *Service) CreateHandoff(ctx context.Context, h *session.Handoff) (string, error) {
	return s.deps.Handoffs.Put(ctx, h)
}

func (s *Service) GetHandoff(ctx context.Context, key string) (*session.Handoff, error) {
	return s.deps.Handoffs.Get(ctx, key)
}

// Start opens a session. With a handoff key the session continues the stored
// record; without one it is a blank new-patient registration. The bearer
// token on ctx is used for every backend call the session makes.
func (s *Service) Start(ctx context.Context, handoffKey string) (*Wizard, error) {
	st := start{
		patient:    NewPatient(RegistrationForm{}),
		handoffKey: handoffKey,
		token:      backend.TokenFromContext(ctx),
	}
	if handoffKey != "" {
		h, err := s.deps.Handoffs.Get(ctx, handoffKey)
		if err != nil {
			return nil, fmt.Errorf("load handoff: %w", err)
		}
		if err := h.Validate(); err != nil {
			return nil, err
		}
		if h.Kind == session.KindReturning {
			st.patient = Returning(returningFromRecord(h.Patient))
		}
		st.tempRegistrationID = h.TempRegistrationID
	}

	symptoms, err := s.deps.Catalog.Symptoms(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load symptom catalog")
		st.banner = bannerCatalogUnavailable
	}
	st.catalog = Catalog(symptoms)
	st.lookups, err = s.deps.Catalog.Lookups(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load lookups")
		st.lookups = &backend.Lookups{}
		if st.banner == "" {
			st.banner = bannerLookupsUnavailable
		}
	}

	w := newWizard(uuid.New(), st, s.cfg, s.deps, s.mapper, s.logger)
	s.mu.Lock()
	s.sessions[w.id] = w
	s.mu.Unlock()
	w.logger.Info().Str("flow", string(st.patient.Kind())).Bool("handoff", handoffKey != "").Msg("registration session started")
	return w, nil
}

func returningFromRecord(r *session.PatientRecord) ReturningPatient {
	return ReturningPatient{
		PatientID:             r.PatientID,
		Name:                  r.Name,
		Sex:                   r.Sex,
		Birthday:              r.Birthday,
		Age:                   r.Age,
		ContactNumber:         r.ContactNumber,
		Email:                 r.Email,
		Address:               r.Address,
		EmergencyContactName:  r.EmergencyContactName,
		EmergencyContactNo:    r.EmergencyContactNo,
		EmergencyRelationship: r.EmergencyRelationship,
	}
}

// Get returns a live session.
func (s *Service) Get(id uuid.UUID) (*Wizard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return w, nil
}

// Close ends a session and releases everything it holds.
func (s *Service) Close(id uuid.UUID) error {
	s.mu.Lock()
	w, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	w.Close()
	return nil
}

// Active returns the number of live sessions.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire closes sessions idle for longer than the session TTL and returns
// how many were closed.
func (s *Service) Expire() int {
	cutoff := s.cfg.Now().Add(-s.cfg.SessionTTL)
	s.mu.Lock()
	var stale []*Wizard
	for id, w := range s.sessions {
		if w.idleSince().Before(cutoff) {
			stale = append(stale, w)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, w := range stale {
		w.Close()
		w.logger.Info().Msg("registration session expired")
	}
	return len(stale)
}

// Run expires idle sessions until ctx is done, then closes the rest.
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.SessionTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Expire()
		}
	}
}

// Shutdown closes every live session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	all := make([]*Wizard, 0, len(s.sessions))
	for id, w := range s.sessions {
		all = append(all, w)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, w := range all {
		w.Close()
	}
}

// ListSubmissions pages through the submission log, newest first.
func (s *Service) ListSubmissions(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	if s.deps.Submissions == nil {
		return nil, 0, nil
	}
	return s.deps.Submissions.List(ctx, limit, offset)
}
