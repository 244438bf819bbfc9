package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/printing"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

const bannerSubmitFailed = "Registration failed. Please try again."

var (
	ErrNotAtSummary     = errors.New("submission is only possible from the summary step")
	ErrAlreadySubmitted = errors.New("registration has already been submitted")
	ErrSubmitInProgress = errors.New("a submission is already in progress")
	ErrIncomplete       = errors.New("some required fields are missing or invalid")
)

// Submission outcomes reported to observers.
const (
	SubmitSucceeded = "success"
	SubmitInvalid   = "invalid"
	SubmitFailed    = "failed"
)

// Outcome is what the kiosk shows after a successful submission.
type Outcome struct {
	Result     backend.SubmissionResult `json:"result"`
	Printed    bool                     `json:"printed"`
	PrintError string                   `json:"print_error,omitempty"`
	PrintJobID string                   `json:"print_job_id,omitempty"`
}

// submitPlan is the request built under the lock and sent without it.
type submitPlan struct {
	kind       Kind
	register   *backend.RegisterRequest
	visit      *backend.VisitRequest
	name       string
	symptoms   []string
	department string
	intake     string
	tempID     string
	handoffKey string
	idImageID  string
	idType     string
}

// Submit sends the registration or visit to the backend. On success the
// receipt is printed and the follow-up work (handoff cleanup, ID image upload,
// queue event, submission log) is done best effort. On failure the form is
// kept so the patient can correct it and try again.
func (w *Wizard) Submit(ctx context.Context) (*Outcome, error) {
	ctx = w.callCtx(ctx)
	plan, err := w.beginSubmit(ctx)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			w.observeSubmit(SubmitInvalid)
		}
		return nil, err
	}

	var res *backend.SubmissionResult
	if plan.kind == KindReturning {
		res, err = w.deps.Backend.BookVisit(ctx, plan.visit)
	} else {
		res, err = w.deps.Backend.RegisterPatient(ctx, plan.register)
	}
	if err != nil {
		w.failSubmit(err)
		w.observeSubmit(SubmitFailed)
		return nil, fmt.Errorf("submit %s registration: %w", plan.kind, err)
	}
	if res.Department == "" {
		res.Department = plan.department
	}

	w.mu.Lock()
	w.submitting = false
	w.result = res
	w.department = res.Department
	w.banner = ""
	w.idImageID = ""
	w.mu.Unlock()

	out := &Outcome{Result: *res}
	w.printReceipt(ctx, plan, res, out)
	w.finishSubmit(ctx, plan, res, out)
	w.observeSubmit(SubmitSucceeded)
	w.logger.Info().
		Str("flow", string(plan.kind)).
		Str("patient_id", res.PatientID).
		Str("department", res.Department).
		Str("queue_number", res.QueueNumber).
		Msg("registration submitted")
	return out, nil
}

// beginSubmit validates every step, recommends a department when none was
// computed yet and marks the session as submitting.
func (w *Wizard) beginSubmit(ctx context.Context) (*submitPlan, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if w.result != nil {
		w.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	if w.submitting {
		w.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	k := w.patient.Kind()
	if StepKindOf(k, w.step) != StepSummary {
		w.mu.Unlock()
		return nil, ErrNotAtSummary
	}
	w.touchLocked()

	clean := true
	first, last := StepRange(k)
	for step := first; step < last; step++ {
		kind := StepKindOf(k, step)
		w.recordLocalLocked(kind, checkStep(kind, &w.patient, w.catalog, w.cfg.Now()))
		if !w.stepClearLocked(kind) {
			clean = false
		}
	}
	if !clean {
		w.banner = bannerIncomplete
		w.mu.Unlock()
		return nil, ErrIncomplete
	}
	w.submitting = true
	w.banner = ""
	dept := w.department
	selected := append([]string(nil), w.patient.Assessment().Symptoms...)
	age := AgeYears(w.patient.Birthday(), w.cfg.Now())
	w.mu.Unlock()

	if dept == "" {
		dept = w.mapper.Recommend(ctx, selected, age)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.department = dept
	plan := &submitPlan{
		kind:       k,
		name:       w.patient.DisplayName(),
		symptoms:   selected,
		department: dept,
		intake:     w.intake,
		tempID:     w.tempRegistrationID,
		handoffKey: w.handoffKey,
		idImageID:  w.idImageID,
	}
	assessment := w.patient.Assessment().toBackend()
	if p, ok := w.patient.Patient(); ok {
		plan.visit = &backend.VisitRequest{
			PatientID:          p.PatientID,
			Department:         dept,
			TempRegistrationID: w.tempRegistrationID,
			Assessment:         assessment,
		}
		return plan, nil
	}
	f, _ := w.patient.Form()
	plan.idType = f.IDType
	plan.register = &backend.RegisterRequest{
		FullName:              f.FullName,
		Sex:                   f.Sex,
		Birthday:              f.Birthday,
		Age:                   f.Age,
		Address:               f.Address,
		ContactNumber:         f.ContactNumber,
		Email:                 f.Email,
		EmergencyContactName:  f.EmergencyContactName,
		EmergencyContactNo:    f.EmergencyContactNo,
		EmergencyRelationship: f.EmergencyRelationship,
		IDType:                f.IDType,
		IDNumber:              f.IDNumber,
		Department:            dept,
		TempRegistrationID:    w.tempRegistrationID,
		Assessment:            assessment,
	}
	return plan, nil
}

// failSubmit maps a backend failure onto the form. A field-scoped error
// lands under that field; anything else shows the generic banner.
func (w *Wizard) failSubmit(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Field != "" {
		msg := apiErr.Text()
		if msg == "" {
			msg = bannerSubmitFailed
		}
		w.errors.Set(apiErr.Field, msg, ClassServer)
		w.banner = msg
		return
	}
	w.banner = bannerSubmitFailed
	w.logger.Warn().Err(err).Msg("registration submission failed")
}

func (w *Wizard) printReceipt(ctx context.Context, plan *submitPlan, res *backend.SubmissionResult, out *Outcome) {
	if w.deps.Printer == nil {
		return
	}
	job, err := w.deps.Printer.Print(ctx, printing.Receipt{
		Flow:        string(plan.kind),
		PatientID:   res.PatientID,
		PatientName: plan.name,
		Department:  res.Department,
		QueueNumber: res.QueueNumber,
		IssuedAt:    w.cfg.Now(),
	})
	if job != nil {
		out.PrintJobID = job.ID
	}
	if err != nil {
		w.logger.Warn().Err(err).Msg("print receipt")
		out.PrintError = "Your registration is complete but the receipt could not be printed. Please ask the front desk for a copy."
		return
	}
	out.Printed = true
}

// finishSubmit runs the post-submission side effects. None of them can undo
// a successful registration, so failures are only logged.
func (w *Wizard) finishSubmit(ctx context.Context, plan *submitPlan, res *backend.SubmissionResult, out *Outcome) {
	if plan.handoffKey != "" && w.deps.Handoffs != nil {
		if err := w.deps.Handoffs.Delete(ctx, plan.handoffKey); err != nil {
			w.logger.Warn().Err(err).Msg("clear handoff record")
		}
	}

	if plan.idImageID != "" {
		w.uploadIDImage(ctx, plan.idImageID, plan.idType, res.PatientID)
	}

	if w.deps.Events != nil {
		evType := websocket.EventRegistrationCreated
		if plan.kind == KindReturning {
			evType = websocket.EventVisitCreated
		}
		data, _ := json.Marshal(map[string]string{
			"patient_id":   res.PatientID,
			"patient_name": plan.name,
			"visit_id":     res.VisitID,
		})
		if err := w.deps.Events.Publish(ctx, websocket.Event{
			Type:        evType,
			Department:  res.Department,
			QueueNumber: res.QueueNumber,
			Data:        data,
		}); err != nil {
			w.logger.Warn().Err(err).Msg("publish queue event")
		}
	}

	if w.deps.Submissions != nil {
		sub := &Submission{
			ID:                 uuid.New(),
			SessionID:          w.id,
			Flow:               plan.kind,
			PatientID:          res.PatientID,
			VisitID:            res.VisitID,
			Department:         res.Department,
			QueueNumber:        res.QueueNumber,
			Symptoms:           plan.symptoms,
			Intake:             plan.intake,
			TempRegistrationID: plan.tempID,
			Printed:            out.Printed,
			CreatedAt:          w.cfg.Now(),
		}
		if err := w.deps.Submissions.Create(ctx, sub); err != nil {
			w.logger.Warn().Err(err).Msg("append submission log")
		}
	}
}

// uploadIDImage sends the staged ID photo under the new patient id and drops
// the staged copy either way.
func (w *Wizard) uploadIDImage(ctx context.Context, imageID, idType, patientID string) {
	defer func() {
		if err := w.deps.Images.Delete(context.Background(), imageID); err != nil {
			w.logger.Debug().Err(err).Str("image_id", imageID).Msg("drop staged id image")
		}
	}()

	rc, meta, err := w.deps.Images.Download(ctx, imageID)
	if err != nil {
		w.logger.Warn().Err(err).Str("image_id", imageID).Msg("load staged id image")
		return
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		w.logger.Warn().Err(err).Str("image_id", imageID).Msg("read staged id image")
		return
	}
	if idType == "" {
		idType = meta.IDType
	}
	if err := w.deps.Backend.UploadIDImage(ctx, &backend.IDImageUpload{
		PatientID:   patientID,
		IDType:      idType,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Content:     content,
	}); err != nil {
		w.logger.Warn().Err(err).Str("patient_id", patientID).Msg("upload id image")
	}
}

func (w *Wizard) observeSubmit(outcome string) {
	if w.deps.Observer != nil {
		w.deps.Observer.ObserveSubmission(string(w.kind()), outcome)
	}
}

func (w *Wizard) kind() Kind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.patient.Kind()
}
