package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/domain/idcapture"
	"github.com/clicare/kiosk/internal/domain/qrintake"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/camera"
)

const bannerIncomplete = "Please complete all required fields"

var (
	ErrSessionClosed           = errors.New("registration session is closed")
	ErrUnknownField            = errors.New("unknown field")
	ErrFieldNotEditable        = errors.New("field cannot be edited in this flow")
	ErrInvalidFieldValue       = errors.New("invalid field value")
	ErrIntakeNotAllowed        = errors.New("this intake is not available for the current patient")
	ErrTempRegistrationExpired = errors.New("temporary registration has expired")
	ErrPatientMismatch         = errors.New("record belongs to a different patient")
)

// Wizard is one kiosk registration session. All form state lives behind mu;
// the duplicate checker's timer and the intake actors call back into it.
// Lock order is mu before the checker's lock, and the intake actors are
// always closed without mu held because their merge callbacks take it.
type Wizard struct {
	id     uuid.UUID
	cfg    Config
	deps   Deps
	mapper *DepartmentMapper
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	token  string

	frames  *camera.FrameBuffer
	cameras *camera.Manager
	dup     *duplicateChecker
	qr      *qrintake.Scanner
	idc     *idcapture.Capture

	// intakeMu serializes opening and closing the two camera intakes.
	intakeMu sync.Mutex

	mu                 sync.Mutex
	patient            PatientContext
	step               int
	errors             FieldErrors
	banner             string
	catalog            Catalog
	lookups            *backend.Lookups
	department         string
	handoffKey         string
	tempRegistrationID string
	idImageID          string
	intake             string
	result             *backend.SubmissionResult
	submitting         bool
	closed             bool
	createdAt          time.Time
	lastActive         time.Time
}

// start carries what a new wizard is built from.
type start struct {
	patient            PatientContext
	handoffKey         string
	tempRegistrationID string
	token              string
	catalog            Catalog
	lookups            *backend.Lookups
	banner             string
}

func newWizard(id uuid.UUID, st start, cfg Config, deps Deps, mapper *DepartmentMapper, logger zerolog.Logger) *Wizard {
	ctx, cancel := context.WithCancel(backend.WithToken(context.Background(), st.token))
	first, _ := StepRange(st.patient.Kind())
	now := cfg.Now()
	w := &Wizard{
		id:                 id,
		cfg:                cfg,
		deps:               deps,
		mapper:             mapper,
		logger:             logger.With().Str("session_id", id.String()).Logger(),
		ctx:                ctx,
		cancel:             cancel,
		token:              st.token,
		frames:             camera.NewFrameBuffer(),
		patient:            st.patient,
		step:               first,
		errors:             make(FieldErrors),
		banner:             st.banner,
		catalog:            st.catalog,
		lookups:            st.lookups,
		handoffKey:         st.handoffKey,
		tempRegistrationID: st.tempRegistrationID,
		intake:             IntakeManual,
		createdAt:          now,
		lastActive:         now,
	}
	w.cameras = camera.NewManager(w.frames)
	w.dup = newDuplicateChecker(ctx, deps.Backend, cfg.DuplicateDebounce, w.applyDuplicate, w.logger)
	w.qr = qrintake.NewScanner(qrintake.Config{
		Interval: cfg.QRScanInterval,
		Timeout:  cfg.QRScanTimeout,
		Now:      cfg.Now,
	}, w.cameras, deps.Decoder, w, w.validationContext, w.logger)
	w.idc = idcapture.New(idcapture.Config{SessionID: id.String()}, w.cameras, deps.OCR, deps.Images, w, w.logger)

	if o := deps.Observer; o != nil {
		w.dup.observe = o.ObserveDuplicateCheck
		if qo, ok := o.(qrintake.Observer); ok {
			w.qr.SetObserver(qo)
		}
		if io, ok := o.(idcapture.Observer); ok {
			w.idc.SetObserver(io)
		}
	}
	if f, ok := w.patient.Form(); ok && f.Birthday != "" {
		f.Age, _ = AgeFromBirthday(f.Birthday, now)
	}
	return w
}

// ID returns the session id.
func (w *Wizard) ID() uuid.UUID { return w.id }

// callCtx attaches the session's bearer token to ctx unless one is present.
func (w *Wizard) callCtx(ctx context.Context) context.Context {
	if backend.TokenFromContext(ctx) != "" {
		return ctx
	}
	return backend.WithToken(ctx, w.token)
}

func (w *Wizard) touchLocked() {
	w.lastActive = w.cfg.Now()
}

// idleSince reports when the session was last used.
func (w *Wizard) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// View is the full wizard state rendered by the kiosk UI.
type View struct {
	ID                 uuid.UUID                 `json:"id"`
	Kind               Kind                      `json:"kind"`
	Step               int                       `json:"step"`
	StepKind           StepKind                  `json:"step_kind"`
	FirstStep          int                       `json:"first_step"`
	LastStep           int                       `json:"last_step"`
	Patient            PatientContext            `json:"patient"`
	Errors             FieldErrors               `json:"errors"`
	Banner             string                    `json:"banner,omitempty"`
	Catalog            Catalog                   `json:"catalog"`
	SelectedCounts     map[string]int            `json:"selected_counts"`
	RoutineCareOnly    bool                      `json:"routine_care_only"`
	Department         string                    `json:"department,omitempty"`
	TempRegistrationID string                    `json:"temp_registration_id,omitempty"`
	HasIDImage         bool                      `json:"has_id_image"`
	Intake             string                    `json:"intake"`
	DuplicatePending   bool                      `json:"duplicate_check_pending"`
	Submitting         bool                      `json:"submitting"`
	Result             *backend.SubmissionResult `json:"result,omitempty"`
	QR                 qrintake.Snapshot         `json:"qr"`
	IDCapture          idcapture.Snapshot        `json:"id_capture"`
}

// View returns a consistent copy of the wizard state.
func (w *Wizard) View() View {
	qr, idc := w.qr.Snapshot(), w.idc.Snapshot()

	w.mu.Lock()
	defer w.mu.Unlock()
	first, last := StepRange(w.patient.Kind())
	selected := w.patient.Assessment().Symptoms
	v := View{
		ID:                 w.id,
		Kind:               w.patient.Kind(),
		Step:               w.step,
		StepKind:           StepKindOf(w.patient.Kind(), w.step),
		FirstStep:          first,
		LastStep:           last,
		Patient:            w.patient.clone(),
		Errors:             w.errors.clone(),
		Banner:             w.banner,
		Catalog:            w.catalog,
		SelectedCounts:     w.catalog.SelectedCounts(selected),
		RoutineCareOnly:    w.catalog.OnlyRoutineCare(selected),
		Department:         w.department,
		TempRegistrationID: w.tempRegistrationID,
		HasIDImage:         w.idImageID != "",
		Intake:             w.intake,
		DuplicatePending:   w.dup.Pending(),
		Submitting:         w.submitting,
		QR:                 qr,
		IDCapture:          idc,
	}
	if w.result != nil {
		r := *w.result
		v.Result = &r
	}
	return v
}

// Lookups returns the option lists loaded for this session.
func (w *Wizard) Lookups() *backend.Lookups {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lookups
}

// ---------------------------------------------------------------------------
// Editing
// ---------------------------------------------------------------------------

var assessmentFields = map[string]bool{
	FieldDuration:          true,
	FieldSeverity:          true,
	FieldPreviousTreatment: true,
	FieldAllergies:         true,
	FieldMedications:       true,
	FieldPreferredDate:     true,
	FieldPreferredTime:     true,
}

var formFields = map[string]bool{
	FieldFullName:              true,
	FieldSex:                   true,
	FieldBirthday:              true,
	FieldAddress:               true,
	FieldContactNo:             true,
	FieldEmail:                 true,
	FieldEmergencyName:         true,
	FieldEmergencyNo:           true,
	FieldEmergencyRelationship: true,
	FieldIDType:                true,
	FieldIDNumber:              true,
	FieldConsent:               true,
}

// SetFields applies a batch of edits. Either every edit is applied or none.
// Symptoms are changed with ToggleSymptom and age is always derived.
func (w *Wizard) SetFields(updates map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSessionClosed
	}
	if w.result != nil {
		return ErrAlreadySubmitted
	}

	for field, value := range updates {
		switch {
		case assessmentFields[field]:
		case formFields[field]:
			if w.patient.Kind() != KindNew {
				return fmt.Errorf("%w: %s", ErrFieldNotEditable, field)
			}
		case field == FieldSymptoms || field == "age":
			return fmt.Errorf("%w: %s", ErrFieldNotEditable, field)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		if field == FieldConsent {
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("%w: %s must be true or false", ErrInvalidFieldValue, field)
			}
		} else if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s must be text", ErrInvalidFieldValue, field)
		}
	}

	w.touchLocked()
	w.banner = ""
	for field, value := range updates {
		if field == FieldConsent {
			w.patient.form.Consent = value.(bool)
			w.errors.Clear(field)
			continue
		}
		w.setFieldLocked(field, value.(string))
	}
	return nil
}

// setFieldLocked writes one text field and runs the edit side effects:
// the field's own error goes away, age follows birthday and email or phone
// edits are handed to the duplicate checker.
func (w *Wizard) setFieldLocked(field, value string) {
	a := w.patient.Assessment()
	switch field {
	case FieldDuration:
		a.Duration = value
	case FieldSeverity:
		a.Severity = value
	case FieldPreviousTreatment:
		a.PreviousTreatment = value
	case FieldAllergies:
		a.Allergies = value
	case FieldMedications:
		a.Medications = value
	case FieldPreferredDate:
		a.PreferredDate = value
	case FieldPreferredTime:
		a.PreferredTime = value
	default:
		f, ok := w.patient.Form()
		if !ok {
			return
		}
		switch field {
		case FieldFullName:
			f.FullName = value
		case FieldSex:
			f.Sex = value
		case FieldBirthday:
			f.Birthday = value
			f.Age, _ = AgeFromBirthday(value, w.cfg.Now())
		case FieldAddress:
			f.Address = value
		case FieldContactNo:
			f.ContactNumber = value
			// the same-number rule is re-checked on the next step change
			w.errors.ClearClass(FieldEmergencyNo, ClassLocal)
		case FieldEmail:
			f.Email = value
		case FieldEmergencyName:
			f.EmergencyContactName = value
		case FieldEmergencyNo:
			f.EmergencyContactNo = value
		case FieldEmergencyRelationship:
			f.EmergencyRelationship = value
		case FieldIDType:
			f.IDType = value
		case FieldIDNumber:
			f.IDNumber = value
		}
	}

	w.errors.Clear(field)
	if duplicateCheckable(field) {
		if cached, ok := w.dup.Changed(field, value); ok {
			w.applyDuplicateLocked(cached)
		}
	}
}

// currentValueLocked returns the duplicate-normalized value of field.
func (w *Wizard) currentValueLocked(field string) string {
	f, ok := w.patient.Form()
	if !ok {
		return ""
	}
	switch field {
	case FieldEmail:
		return normalizeForDuplicate(field, f.Email)
	case FieldContactNo:
		return normalizeForDuplicate(field, f.ContactNumber)
	}
	return ""
}

// applyDuplicate is the checker's callback for a completed lookup.
func (w *Wizard) applyDuplicate(res DuplicateResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || res.Seq != w.dup.Latest(res.Field) {
		return
	}
	w.applyDuplicateLocked(res)
}

func (w *Wizard) applyDuplicateLocked(res DuplicateResult) {
	if w.currentValueLocked(res.Field) != res.Value {
		return
	}
	if res.Err != nil || !res.Exists {
		w.errors.ClearClass(res.Field, ClassDuplicate)
		return
	}
	msg := res.Message
	if msg == "" {
		msg = duplicateMessage(res.Field)
	}
	w.errors.Set(res.Field, msg, ClassDuplicate)
}

func duplicateMessage(field string) string {
	if field == FieldEmail {
		return "This email address is already registered"
	}
	return "This contact number is already registered"
}

// ToggleSymptom selects or deselects a catalog symptom and reports whether it
// is selected afterwards.
func (w *Wizard) ToggleSymptom(symptom string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, ErrSessionClosed
	}
	if w.result != nil {
		return false, ErrAlreadySubmitted
	}
	if !w.catalog.Contains(symptom) {
		return false, fmt.Errorf("%w: %s", ErrUnknownSymptom, symptom)
	}
	w.touchLocked()
	selected := w.patient.Assessment().Toggle(symptom)
	w.errors.Clear(FieldSymptoms)
	if w.catalog.OnlyRoutineCare(w.patient.Assessment().Symptoms) {
		w.errors.Clear(FieldDuration)
		w.errors.Clear(FieldSeverity)
	}
	w.banner = ""
	return selected, nil
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

// ValidateStep reports whether step could be left forward right now. It does
// not change any state.
func (w *Wizard) ValidateStep(step int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	kind := StepKindOf(w.patient.Kind(), step)
	if kind == "" {
		return false
	}
	if len(checkStep(kind, &w.patient, w.catalog, w.cfg.Now())) > 0 {
		return false
	}
	return w.stepClearLocked(kind)
}

// stepClearLocked reports whether none of the step's fields carries an error
// of any class.
func (w *Wizard) stepClearLocked(kind StepKind) bool {
	for _, f := range stepFields[kind] {
		if _, ok := w.errors[f]; ok {
			return false
		}
	}
	return true
}

// recordLocalLocked replaces the step's local errors with errs. Duplicate and
// server errors stay in place.
func (w *Wizard) recordLocalLocked(kind StepKind, errs map[string]string) {
	for _, f := range stepFields[kind] {
		w.errors.ClearClass(f, ClassLocal)
	}
	for f, msg := range errs {
		if fe, ok := w.errors[f]; ok && fe.Class != ClassLocal {
			continue
		}
		w.errors.Set(f, msg, ClassLocal)
	}
}

// NextStep validates the current step and advances when it is clean.
// Entering the summary step computes the recommended department.
func (w *Wizard) NextStep(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, ErrSessionClosed
	}
	w.touchLocked()
	k := w.patient.Kind()
	_, last := StepRange(k)
	if w.step >= last {
		w.mu.Unlock()
		return false, nil
	}
	kind := StepKindOf(k, w.step)
	w.recordLocalLocked(kind, checkStep(kind, &w.patient, w.catalog, w.cfg.Now()))
	if !w.stepClearLocked(kind) {
		w.banner = bannerIncomplete
		w.mu.Unlock()
		return false, nil
	}
	w.banner = ""
	w.step++
	step := w.step
	summary := StepKindOf(k, step) == StepSummary
	selected := append([]string(nil), w.patient.Assessment().Symptoms...)
	age := AgeYears(w.patient.Birthday(), w.cfg.Now())
	w.mu.Unlock()

	if summary {
		dept := w.mapper.Recommend(w.callCtx(ctx), selected, age)
		w.mu.Lock()
		if w.step == step {
			w.department = dept
		}
		w.mu.Unlock()
	}
	return true, nil
}

// PrevStep moves back one step unless the flow's first step is showing.
func (w *Wizard) PrevStep() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, ErrSessionClosed
	}
	w.touchLocked()
	first, _ := StepRange(w.patient.Kind())
	if w.step <= first {
		return false, nil
	}
	w.step--
	w.banner = ""
	return true, nil
}

// ---------------------------------------------------------------------------
// Camera and intake
// ---------------------------------------------------------------------------

// PushFrame decodes a data URL from the kiosk camera and offers it to the
// open stream. It reports false when no intake is streaming.
func (w *Wizard) PushFrame(dataURL string) (bool, error) {
	frame, err := camera.DecodeDataURL(dataURL)
	if err != nil {
		return false, err
	}
	return w.frames.Push(frame), nil
}

// CameraError records a device error reported by the kiosk browser.
func (w *Wizard) CameraError(kind string) error {
	if strings.TrimSpace(kind) == "" {
		return fmt.Errorf("%w: camera error kind is required", ErrInvalidFieldValue)
	}
	w.frames.Fail(camera.ErrorFromKind(kind))
	return nil
}

func (w *Wizard) intakeAllowed(needNew bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSessionClosed
	}
	if w.result != nil {
		return ErrAlreadySubmitted
	}
	if needNew && w.patient.Kind() != KindNew {
		return ErrIntakeNotAllowed
	}
	w.touchLocked()
	return nil
}

// OpenQR closes ID capture if it is open and starts a QR scan.
func (w *Wizard) OpenQR() error {
	if err := w.intakeAllowed(false); err != nil {
		return err
	}
	w.intakeMu.Lock()
	defer w.intakeMu.Unlock()
	w.idc.Close()
	return w.qr.Open(w.ctx)
}

// CloseQR stops the scan and releases the camera.
func (w *Wizard) CloseQR() {
	w.intakeMu.Lock()
	defer w.intakeMu.Unlock()
	w.qr.Close()
}

// QR returns the scanner state.
func (w *Wizard) QR() qrintake.Snapshot { return w.qr.Snapshot() }

// OpenIDCapture closes the QR scanner if it is open and opens the camera for
// an ID photo of type t.
func (w *Wizard) OpenIDCapture(t idcapture.IDType) error {
	if err := w.intakeAllowed(true); err != nil {
		return err
	}
	w.intakeMu.Lock()
	defer w.intakeMu.Unlock()
	w.qr.Close()
	return w.idc.Open(w.ctx, t)
}

// CaptureID takes the photo.
func (w *Wizard) CaptureID() error { return w.idc.Capture() }

// RetryID reopens the camera after a failure.
func (w *Wizard) RetryID() error { return w.idc.Retry() }

// CloseIDCapture closes the ID capture modal.
func (w *Wizard) CloseIDCapture() {
	w.intakeMu.Lock()
	defer w.intakeMu.Unlock()
	w.idc.Close()
}

// IDCapture returns the capture state.
func (w *Wizard) IDCapture() idcapture.Snapshot { return w.idc.Snapshot() }

func (w *Wizard) validationContext() qrintake.ValidationContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	vc := qrintake.ValidationContext{Flow: qrintake.FlowNewPatient}
	if w.patient.Kind() == KindReturning {
		vc.Flow = qrintake.FlowReturningPatient
		vc.PatientID = w.patient.PatientID()
	}
	return vc
}

// MergeQR loads the record a validated payload points at and merges it. The
// assessment is replaced as a whole.
func (w *Wizard) MergeQR(ctx context.Context, p *qrintake.Payload) error {
	if p.Type.IsRegistration() {
		rec, err := w.deps.Backend.TempRegistration(ctx, p.TempID)
		if err != nil {
			return fmt.Errorf("load temp registration %s: %w", p.TempID, err)
		}
		if rec.ExpiresAt != nil && w.cfg.Now().After(*rec.ExpiresAt) {
			return ErrTempRegistrationExpired
		}
		return w.mergeTempRegistration(p, rec)
	}

	rec, err := w.deps.Backend.HealthAssessment(ctx, p.PatientID)
	if err != nil {
		return fmt.Errorf("load health assessment %s: %w", p.PatientID, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mergeAllowedLocked(); err != nil {
		return err
	}
	if w.patient.Kind() != KindReturning || (rec.PatientID != "" && rec.PatientID != w.patient.PatientID()) {
		return ErrPatientMismatch
	}
	w.replaceAssessmentLocked(rec.Assessment)
	w.intake = IntakeQR
	return nil
}

func (w *Wizard) mergeTempRegistration(p *qrintake.Payload, rec *backend.TempRegistration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mergeAllowedLocked(); err != nil {
		return err
	}
	if _, ok := w.patient.Form(); !ok {
		return ErrIntakeNotAllowed
	}
	w.touchLocked()

	name := rec.FullName
	if name == "" {
		name = p.Name
	}
	contact := rec.ContactNumber
	if contact == "" {
		contact = p.Contact
	}
	for field, v := range map[string]string{
		FieldFullName:              name,
		FieldSex:                   rec.Sex,
		FieldBirthday:              rec.Birthday,
		FieldAddress:               rec.Address,
		FieldContactNo:             contact,
		FieldEmail:                 rec.Email,
		FieldEmergencyName:         rec.EmergencyContactName,
		FieldEmergencyNo:           rec.EmergencyContactNo,
		FieldEmergencyRelationship: rec.EmergencyRelationship,
	} {
		if strings.TrimSpace(v) != "" {
			w.setFieldLocked(field, v)
		}
	}
	w.replaceAssessmentLocked(rec.Assessment)
	w.tempRegistrationID = p.TempID
	w.intake = IntakeQR
	w.banner = ""
	return nil
}

// mergeAllowedLocked refuses intake merges once the session is closed or a
// submission has started.
func (w *Wizard) mergeAllowedLocked() error {
	switch {
	case w.closed:
		return ErrSessionClosed
	case w.result != nil:
		return ErrAlreadySubmitted
	case w.submitting:
		return ErrSubmitInProgress
	}
	return nil
}

func (w *Wizard) replaceAssessmentLocked(b backend.Assessment) {
	*w.patient.Assessment() = assessmentFromBackend(b)
	w.errors.Clear(FieldSymptoms)
	for f := range assessmentFields {
		w.errors.Clear(f)
	}
	w.department = ""
}

// MergeOCR writes recognized ID fields into the form and takes over the
// staged photo for upload after registration.
func (w *Wizard) MergeOCR(ctx context.Context, t idcapture.IDType, fields map[string]string, imageID string) error {
	w.mu.Lock()
	if err := w.mergeAllowedLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	f, ok := w.patient.Form()
	if !ok {
		w.mu.Unlock()
		return ErrIntakeNotAllowed
	}
	w.touchLocked()
	for field, v := range fields {
		switch field {
		case idcapture.FieldSex:
			v = normalizeSex(v)
		case idcapture.FieldBirthday:
			v = normalizeBirthday(v)
		}
		w.setFieldLocked(field, v)
	}
	f.IDType = string(t)
	w.errors.Clear(FieldIDType)
	w.intake = IntakeOCR
	// only the photo of the latest capture is uploaded
	previous := w.idImageID
	w.idImageID = imageID
	w.mu.Unlock()

	if previous != "" && previous != imageID {
		if err := w.deps.Images.Delete(ctx, previous); err != nil {
			w.logger.Warn().Err(err).Str("image_id", previous).Msg("drop replaced id image")
		}
	}
	return nil
}

func normalizeSex(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "M", "MALE":
		return "Male"
	case "F", "FEMALE":
		return "Female"
	}
	return v
}

var birthdayLayouts = []string{birthdayLayout, "2006/01/02", "01/02/2006", "January 2, 2006", "Jan 2, 2006", "02 Jan 2006"}

// normalizeBirthday rewrites the date formats printed on IDs to YYYY-MM-DD.
// Unrecognized text is kept so the birthday validator reports it.
func normalizeBirthday(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(birthdayLayout)
		}
	}
	return v
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close ends the session: timers stop, any camera intake is torn down and an
// unsubmitted ID photo is discarded. It is idempotent.
func (w *Wizard) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	staged := w.idImageID
	w.idImageID = ""
	w.mu.Unlock()

	w.dup.Close()
	w.intakeMu.Lock()
	w.qr.Close()
	w.idc.Close()
	w.intakeMu.Unlock()
	w.cancel()

	if staged != "" {
		if err := w.deps.Images.Delete(context.Background(), staged); err != nil {
			w.logger.Warn().Err(err).Str("image_id", staged).Msg("discard id image")
		}
	}
}
