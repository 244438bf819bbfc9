package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/blobstore"
	"github.com/clicare/kiosk/internal/platform/printing"
	"github.com/clicare/kiosk/internal/platform/session"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// fakeBackend records every call and answers from its fields.
type fakeBackend struct {
	mu sync.Mutex

	duplicates  map[string]bool
	dupFailure  bool
	registerErr error
	visitErr    error
	temp        map[string]*backend.TempRegistration
	assessments map[string]*backend.HealthAssessmentRecord

	registered []*backend.RegisterRequest
	visits     []*backend.VisitRequest
	uploads    []*backend.IDImageUpload
	tokens     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		duplicates:  make(map[string]bool),
		temp:        make(map[string]*backend.TempRegistration),
		assessments: make(map[string]*backend.HealthAssessmentRecord),
	}
}

func (b *fakeBackend) CheckDuplicate(_ context.Context, field, value string) (*backend.DuplicateCheckResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dupFailure {
		return nil, errors.New("connection refused")
	}
	return &backend.DuplicateCheckResponse{Exists: b.duplicates[value], Field: field}, nil
}

func (b *fakeBackend) RegisterPatient(ctx context.Context, in *backend.RegisterRequest) (*backend.SubmissionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, backend.TokenFromContext(ctx))
	if b.registerErr != nil {
		err := b.registerErr
		b.registerErr = nil
		return nil, err
	}
	b.registered = append(b.registered, in)
	return &backend.SubmissionResult{PatientID: "PAT100", QueueNumber: "A-001"}, nil
}

func (b *fakeBackend) BookVisit(ctx context.Context, in *backend.VisitRequest) (*backend.SubmissionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, backend.TokenFromContext(ctx))
	if b.visitErr != nil {
		return nil, b.visitErr
	}
	b.visits = append(b.visits, in)
	return &backend.SubmissionResult{PatientID: in.PatientID, VisitID: "VIS1", Department: in.Department, QueueNumber: "B-014"}, nil
}

func (b *fakeBackend) TempRegistration(_ context.Context, id string) (*backend.TempRegistration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.temp[id]
	if !ok {
		return nil, &backend.APIError{Status: 404, Message: "not found"}
	}
	return rec, nil
}

func (b *fakeBackend) HealthAssessment(_ context.Context, id string) (*backend.HealthAssessmentRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.assessments[id]
	if !ok {
		return nil, &backend.APIError{Status: 404, Message: "not found"}
	}
	return rec, nil
}

func (b *fakeBackend) UploadIDImage(_ context.Context, in *backend.IDImageUpload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, in)
	return nil
}

func (b *fakeBackend) Registered() []*backend.RegisterRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*backend.RegisterRequest(nil), b.registered...)
}

func (b *fakeBackend) Visits() []*backend.VisitRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*backend.VisitRequest(nil), b.visits...)
}

type fakeCatalog struct {
	symptomsErr error
	mappings    []backend.DepartmentMapping
}

func (c *fakeCatalog) Symptoms(context.Context) ([]backend.SymptomCategory, error) {
	if c.symptomsErr != nil {
		return nil, c.symptomsErr
	}
	return []backend.SymptomCategory{
		{Category: "General", Symptoms: []string{"Fever", "Headache", "Cough"}},
		{Category: "Routine Care", Symptoms: []string{"Vaccination", "Annual Check-up"}, IsRoutineCare: true},
	}, nil
}

func (c *fakeCatalog) Lookups(context.Context) (*backend.Lookups, error) {
	return &backend.Lookups{
		Relationships: []backend.Option{{Value: "Spouse", Label: "Spouse"}},
	}, nil
}

func (c *fakeCatalog) DepartmentMappings(context.Context) ([]backend.DepartmentMapping, error) {
	return c.mappings, nil
}

type fakePrinter struct {
	mu       sync.Mutex
	err      error
	receipts []printing.Receipt
}

func (p *fakePrinter) Print(_ context.Context, r printing.Receipt) (*printing.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, r)
	if p.err != nil {
		return &printing.Job{ID: "job-failed"}, p.err
	}
	return &printing.Job{ID: "job-1"}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev websocket.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) All() []websocket.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]websocket.Event(nil), r.events...)
}

type memSubmissions struct {
	mu   sync.Mutex
	subs []*Submission
}

func (m *memSubmissions) Create(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
	return nil
}

func (m *memSubmissions) List(_ context.Context, limit, offset int) ([]*Submission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.subs)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return m.subs[offset:end], total, nil
}

type countingObserver struct {
	mu          sync.Mutex
	submissions map[string]int
	duplicates  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{submissions: map[string]int{}, duplicates: map[string]int{}}
}

func (o *countingObserver) ObserveSubmission(flow, outcome string) {
	o.mu.Lock()
	o.submissions[flow+"/"+outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDuplicateCheck(outcome string) {
	o.mu.Lock()
	o.duplicates[outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) Submissions(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submissions[key]
}

// testEnv bundles a service with handles on its collaborators.
type testEnv struct {
	svc      *Service
	backend  *fakeBackend
	catalog  *fakeCatalog
	printer  *fakePrinter
	events   *recordingEvents
	subs     *memSubmissions
	images   *blobstore.MemoryStore
	handoffs *session.MemoryStore
	observer *countingObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend:  newFakeBackend(),
		catalog:  &fakeCatalog{},
		printer:  &fakePrinter{},
		events:   &recordingEvents{},
		subs:     &memSubmissions{},
		images:   blobstore.NewMemoryStore(),
		handoffs: session.NewMemoryStore(time.Hour),
		observer: newCountingObserver(),
	}
	env.svc = NewService(Config{
		DuplicateDebounce: 5 * time.Millisecond,
		Now:               func() time.Time { return testNow },
	}, Deps{
		Backend:     env.backend,
		Catalog:     env.catalog,
		Images:      env.images,
		Printer:     env.printer,
		Events:      env.events,
		Submissions: env.subs,
		Handoffs:    env.handoffs,
		Observer:    env.observer,
	}, zerolog.Nop())
	t.Cleanup(env.svc.Shutdown)
	return env
}

func (env *testEnv) startNew(t *testing.T) *Wizard {
	t.Helper()
	w, err := env.svc.Start(backend.WithToken(context.Background(), "kiosk-token"), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return w
}

func (env *testEnv) startReturning(t *testing.T, patientID string) *Wizard {
	t.Helper()
	ctx := context.Background()
	key, err := env.svc.CreateHandoff(ctx, &session.Handoff{
		Kind: session.KindReturning,
		Patient: &session.PatientRecord{
			PatientID:     patientID,
			Name:          "Ana Reyes",
			Sex:           "Female",
			Birthday:      "1985-03-10",
			ContactNumber: "09170000002",
		},
	})
	if err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	w, err := env.svc.Start(ctx, key)
	if err != nil {
		t.Fatalf("start returning: %v", err)
	}
	return w
}

var validPersonal = map[string]any{
	FieldFullName:  "Juan Dela Cruz",
	FieldSex:       "Male",
	FieldBirthday:  "1990-05-15",
	FieldAddress:   "123 Rizal St, Brgy San Isidro, Quezon City, Metro Manila",
	FieldContactNo: "09171234567",
	FieldEmail:     "juan@example.com",
}

var validEmergency = map[string]any{
	FieldEmergencyName:         "Maria Dela Cruz",
	FieldEmergencyNo:           "09181234567",
	FieldEmergencyRelationship: "Spouse",
}

func mustSet(t *testing.T, w *Wizard, fields map[string]any) {
	t.Helper()
	if err := w.SetFields(fields); err != nil {
		t.Fatalf("set fields: %v", err)
	}
}

func mustNext(t *testing.T, w *Wizard) {
	t.Helper()
	moved, err := w.NextStep(context.Background())
	if err != nil {
		t.Fatalf("next step: %v", err)
	}
	if !moved {
		v := w.View()
		t.Fatalf("expected to leave step %d, errors: %v, banner: %q", v.Step, v.Errors, v.Banner)
	}
}

// toSummary walks a new-patient session through every step with valid data.
func toSummary(t *testing.T, w *Wizard, symptoms ...string) {
	t.Helper()
	mustSet(t, w, validPersonal)
	mustNext(t, w)
	mustSet(t, w, validEmergency)
	mustNext(t, w)
	mustSet(t, w, map[string]any{FieldConsent: true})
	mustNext(t, w)
	for _, s := range symptoms {
		if _, err := w.ToggleSymptom(s); err != nil {
			t.Fatalf("toggle %s: %v", s, err)
		}
	}
	mustNext(t, w)
	mustSet(t, w, map[string]any{FieldDuration: "1-3 days", FieldSeverity: "Mild"})
	mustNext(t, w)
}
