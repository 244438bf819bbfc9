package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/clicare/kiosk/internal/domain/idcapture"
	"github.com/clicare/kiosk/internal/domain/qrintake"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/blobstore"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

func TestSubmit_NewPatient(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.mappings = []backend.DepartmentMapping{{Symptom: "Cough", Department: "Pulmonology"}}
	w := env.startNew(t)
	toSummary(t, w, "Cough", "Fever")

	if got := w.View().Department; got != "Pulmonology" {
		t.Fatalf("expected department computed on entering summary, got %q", got)
	}

	out, err := w.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Result.PatientID != "PAT100" || out.Result.Department != "Pulmonology" {
		t.Errorf("unexpected result %+v", out.Result)
	}
	if !out.Printed || out.PrintJobID != "job-1" {
		t.Errorf("expected printed receipt, got %+v", out)
	}

	reqs := env.backend.Registered()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(reqs))
	}
	req := reqs[0]
	if req.FullName != "Juan Dela Cruz" || req.Department != "Pulmonology" || req.Age != "35" {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.Assessment.Symptoms) != 2 || req.Assessment.Symptoms[0] != "Cough" {
		t.Errorf("expected symptoms in selection order, got %v", req.Assessment.Symptoms)
	}
	if env.backend.tokens[0] != "kiosk-token" {
		t.Errorf("expected session token on backend call, got %q", env.backend.tokens[0])
	}

	evs := env.events.All()
	if len(evs) != 1 || evs[0].Type != websocket.EventRegistrationCreated || evs[0].QueueNumber != "A-001" {
		t.Errorf("unexpected events %+v", evs)
	}
	if len(env.subs.subs) != 1 || env.subs.subs[0].Flow != KindNew || !env.subs.subs[0].Printed {
		t.Errorf("unexpected submission log %+v", env.subs.subs)
	}
	if n := env.observer.Submissions("new/success"); n != 1 {
		t.Errorf("expected 1 observed success, got %d", n)
	}

	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}
	if err := w.SetFields(map[string]any{FieldAllergies: "None"}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected edits to be refused after submit, got %v", err)
	}
}

func TestSubmit_IntakeMergesRefusedOnceSubmitting(t *testing.T) {
	env := newTestEnv(t)
	w := env.startNew(t)
	toSummary(t, w, "Cough")
	late := stageImage(t, env.images)
	ctx := context.Background()
	ocrFields := map[string]string{FieldFullName: "Pedro Garcia"}

	w.mu.Lock()
	w.submitting = true
	w.mu.Unlock()
	if err := w.MergeOCR(ctx, idcapture.NationalID, ocrFields, late); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}
	w.mu.Lock()
	w.submitting = false
	w.mu.Unlock()

	if _, err := w.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.MergeOCR(ctx, idcapture.NationalID, ocrFields, late); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	reqs := env.backend.Registered()
	if len(reqs) != 1 || reqs[0].FullName != "Juan Dela Cruz" {
		t.Errorf("late OCR result leaked into the registration: %+v", reqs)
	}
	if len(env.backend.uploads) != 0 {
		t.Errorf("expected no id image upload, got %d", len(env.backend.uploads))
	}
	if _, err := env.images.GetMetadata(ctx, late); err != nil {
		t.Errorf("refused merge must leave the staged photo with its capture session: %v", err)
	}
}

func TestSubmit_ReturningPatientBooksVisit(t *testing.T) {
	env := newTestEnv(t)
	w := env.startReturning(t, "PAT002")
	mustNext(t, w)
	if _, err := w.ToggleSymptom("Annual Check-up"); err != nil {
		t.Fatal(err)
	}
	mustNext(t, w)
	mustNext(t, w)

	out, err := w.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	visits := env.backend.Visits()
	if len(visits) != 1 || visits[0].PatientID != "PAT002" {
		t.Fatalf("unexpected visits %+v", visits)
	}
	if visits[0].Department != "Internal Medicine" {
		t.Errorf("expected fallback department, got %q", visits[0].Department)
	}
	if out.Result.VisitID != "VIS1" {
		t.Errorf("unexpected result %+v", out.Result)
	}
	if evs := env.events.All(); len(evs) != 1 || evs[0].Type != websocket.EventVisitCreated {
		t.Errorf("expected a visit event, got %+v", evs)
	}
	if len(env.backend.Registered()) != 0 {
		t.Error("returning patients must not be registered again")
	}
}

func TestSubmit_OnlyFromSummary(t *testing.T) {
	env := newTestEnv(t)
	w := env.startNew(t)
	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrNotAtSummary) {
		t.Fatalf("expected ErrNotAtSummary, got %v", err)
	}
}

func TestSubmit_RevalidatesEveryStep(t *testing.T) {
	env := newTestEnv(t)
	w := env.startNew(t)
	toSummary(t, w, "Fever")

	// an edit that reaches the form after its step was left
	w.mu.Lock()
	w.patient.form.Address = "Manila"
	w.mu.Unlock()

	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	v := w.View()
	if v.Banner != bannerIncomplete {
		t.Errorf("expected banner %q, got %q", bannerIncomplete, v.Banner)
	}
	if v.Errors.Message(FieldAddress) == "" {
		t.Error("expected an address error")
	}
	if len(env.backend.Registered()) != 0 {
		t.Error("backend must not be called with invalid data")
	}
	if n := env.observer.Submissions("new/invalid"); n != 1 {
		t.Errorf("expected 1 observed invalid submission, got %d", n)
	}
}

func TestSubmit_FieldErrorFromServer(t *testing.T) {
	env := newTestEnv(t)
	env.backend.registerErr = &backend.APIError{Status: 409, Message: "Email already registered", Field: FieldEmail}
	w := env.startNew(t)
	toSummary(t, w, "Fever")

	if _, err := w.Submit(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
	v := w.View()
	fe := v.Errors[FieldEmail]
	if fe.Class != ClassServer || fe.Message != "Email already registered" {
		t.Errorf("expected server error on email, got %+v", fe)
	}
	if v.Banner != "Email already registered" {
		t.Errorf("unexpected banner %q", v.Banner)
	}
	if v.Submitting || v.Result != nil {
		t.Error("expected the form to be kept for correction")
	}
	f, _ := v.Patient.Form()
	if f.FullName != "Juan Dela Cruz" {
		t.Error("expected form data to be kept")
	}

	// the server error blocks until the field is edited
	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete while the server error stands, got %v", err)
	}
	mustSet(t, w, map[string]any{FieldEmail: "juan.dc@example.com"})
	waitUntil(t, "duplicate check to settle", func() bool { return !w.View().DuplicatePending })
	if _, err := w.Submit(context.Background()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestSubmit_GenericFailureKeepsForm(t *testing.T) {
	env := newTestEnv(t)
	env.backend.registerErr = errors.New("connection reset")
	w := env.startNew(t)
	toSummary(t, w, "Fever")

	if _, err := w.Submit(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
	v := w.View()
	if v.Banner != "Registration failed. Please try again." {
		t.Errorf("unexpected banner %q", v.Banner)
	}
	if v.StepKind != StepSummary {
		t.Errorf("expected to stay on summary, got %s", v.StepKind)
	}
	if n := env.observer.Submissions("new/failed"); n != 1 {
		t.Errorf("expected 1 observed failure, got %d", n)
	}

	if _, err := w.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSubmit_PrintFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.printer.err = errors.New("printer offline")
	w := env.startNew(t)
	toSummary(t, w, "Fever")

	out, err := w.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Printed || out.PrintError == "" {
		t.Errorf("expected print error to be reported, got %+v", out)
	}
	if env.subs.subs[0].Printed {
		t.Error("submission log must record the failed print")
	}
}

func TestSubmit_UploadsStagedIDImage(t *testing.T) {
	env := newTestEnv(t)
	w := env.startNew(t)
	imageID := stageImage(t, env.images)
	if err := w.MergeOCR(context.Background(), idcapture.IDType("national_id"), map[string]string{}, imageID); err != nil {
		t.Fatal(err)
	}
	toSummary(t, w, "Fever")

	if _, err := w.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(env.backend.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(env.backend.uploads))
	}
	up := env.backend.uploads[0]
	if up.PatientID != "PAT100" || up.IDType != "national_id" || string(up.Content) != "jpeg-bytes" {
		t.Errorf("unexpected upload %+v", up)
	}
	if _, err := env.images.GetMetadata(context.Background(), imageID); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected staged image to be dropped after upload, got %v", err)
	}
	if w.View().HasIDImage {
		t.Error("expected no staged image after submit")
	}
}

func TestSubmit_TempRegistrationIDForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.backend.temp["TMP9"] = &backend.TempRegistration{TempID: "TMP9", FullName: "Juan Dela Cruz"}
	w := env.startNew(t)
	if err := w.mergeTempRegistration(&qrintake.Payload{Type: qrintake.TypeMobileRegistration, TempID: "TMP9", Name: "Juan Dela Cruz"}, env.backend.temp["TMP9"]); err != nil {
		t.Fatal(err)
	}
	toSummary(t, w, "Fever")

	if _, err := w.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := env.backend.Registered()[0].TempRegistrationID; got != "TMP9" {
		t.Errorf("expected temp id TMP9, got %q", got)
	}
	if got := env.subs.subs[0].Intake; got != IntakeQR {
		t.Errorf("expected qr intake in submission log, got %q", got)
	}
}
