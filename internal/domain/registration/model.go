package registration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clicare/kiosk/internal/platform/backend"
)

// Kind tells new-patient registration apart from a returning patient's visit.
type Kind string

const (
	KindNew       Kind = "new"
	KindReturning Kind = "returning"
)

// Form field names. They double as the JSON keys of PATCH /fields and as the
// field names the backend uses in duplicate checks and field errors.
const (
	FieldFullName              = "full_name"
	FieldSex                   = "sex"
	FieldBirthday              = "birthday"
	FieldAddress               = "address"
	FieldContactNo             = "contact_no"
	FieldEmail                 = "email"
	FieldEmergencyName         = "emergency_contact_name"
	FieldEmergencyNo           = "emergency_contact_no"
	FieldEmergencyRelationship = "emergency_contact_relationship"
	FieldIDType                = "id_type"
	FieldIDNumber              = "id_number"
	FieldConsent               = "consent"

	FieldSymptoms          = "symptoms"
	FieldDuration          = "duration"
	FieldSeverity          = "severity"
	FieldPreviousTreatment = "previous_treatment"
	FieldAllergies         = "allergies"
	FieldMedications       = "medications"
	FieldPreferredDate     = "preferred_date"
	FieldPreferredTime     = "preferred_time"
)

// HealthAssessment is the per-visit questionnaire. Symptoms keep selection
// order; the first selected symptom wins department ties.
type HealthAssessment struct {
	Symptoms          []string `json:"symptoms"`
	Duration          string   `json:"duration"`
	Severity          string   `json:"severity"`
	PreviousTreatment string   `json:"previous_treatment"`
	Allergies         string   `json:"allergies"`
	Medications       string   `json:"medications"`
	PreferredDate     string   `json:"preferred_date"`
	PreferredTime     string   `json:"preferred_time"`
}

func (a HealthAssessment) toBackend() backend.Assessment {
	return backend.Assessment{
		Symptoms:          append([]string(nil), a.Symptoms...),
		Duration:          a.Duration,
		Severity:          a.Severity,
		PreviousTreatment: a.PreviousTreatment,
		Allergies:         a.Allergies,
		Medications:       a.Medications,
		PreferredDate:     a.PreferredDate,
		PreferredTime:     a.PreferredTime,
	}
}

func assessmentFromBackend(b backend.Assessment) HealthAssessment {
	a := HealthAssessment{
		Duration:          b.Duration,
		Severity:          b.Severity,
		PreviousTreatment: b.PreviousTreatment,
		Allergies:         b.Allergies,
		Medications:       b.Medications,
		PreferredDate:     b.PreferredDate,
		PreferredTime:     b.PreferredTime,
	}
	seen := make(map[string]bool, len(b.Symptoms))
	for _, s := range b.Symptoms {
		if s != "" && !seen[s] {
			seen[s] = true
			a.Symptoms = append(a.Symptoms, s)
		}
	}
	return a
}

// RegistrationForm holds everything a new patient enters. Age is derived from
// Birthday and never set directly.
type RegistrationForm struct {
	FullName              string `json:"full_name"`
	Sex                   string `json:"sex"`
	Birthday              string `json:"birthday"`
	Age                   string `json:"age"`
	Address               string `json:"address"`
	ContactNumber         string `json:"contact_no"`
	Email                 string `json:"email"`
	EmergencyContactName  string `json:"emergency_contact_name"`
	EmergencyContactNo    string `json:"emergency_contact_no"`
	EmergencyRelationship string `json:"emergency_contact_relationship"`
	IDType                string `json:"id_type"`
	IDNumber              string `json:"id_number"`
	Consent               bool   `json:"consent"`
}

// ReturningPatient is an already registered patient, loaded from the handoff
// record written at terminal login.
type ReturningPatient struct {
	PatientID             string `json:"patient_id"`
	Name                  string `json:"name"`
	Sex                   string `json:"sex"`
	Birthday              string `json:"birthday"`
	Age                   string `json:"age"`
	ContactNumber         string `json:"contact_no"`
	Email                 string `json:"email"`
	Address               string `json:"address"`
	EmergencyContactName  string `json:"emergency_contact_name"`
	EmergencyContactNo    string `json:"emergency_contact_no"`
	EmergencyRelationship string `json:"emergency_contact_relationship"`
}

// PatientContext is either a new patient's form or a returning patient's
// record, each paired with the visit's HealthAssessment.
type PatientContext struct {
	kind       Kind
	form       *RegistrationForm
	returning  *ReturningPatient
	assessment HealthAssessment
}

// NewPatient starts a context for a patient who is not yet registered.
func NewPatient(form RegistrationForm) PatientContext {
	return PatientContext{kind: KindNew, form: &form}
}

// Returning starts a context for a known patient.
func Returning(p ReturningPatient) PatientContext {
	return PatientContext{kind: KindReturning, returning: &p}
}

func (p *PatientContext) Kind() Kind { return p.kind }

// Form returns the new-patient form, or false for returning patients.
func (p *PatientContext) Form() (*RegistrationForm, bool) {
	return p.form, p.kind == KindNew
}

// Patient returns the returning patient record, or false for new patients.
func (p *PatientContext) Patient() (*ReturningPatient, bool) {
	return p.returning, p.kind == KindReturning
}

// Assessment is shared by both variants.
func (p *PatientContext) Assessment() *HealthAssessment {
	return &p.assessment
}

// PatientID is empty until a new patient is registered.
func (p *PatientContext) PatientID() string {
	if p.kind == KindReturning {
		return p.returning.PatientID
	}
	return ""
}

// Birthday is the date of birth of either variant.
func (p *PatientContext) Birthday() string {
	if p.kind == KindReturning {
		return p.returning.Birthday
	}
	return p.form.Birthday
}

// DisplayName is used on receipts and queue events.
func (p *PatientContext) DisplayName() string {
	if p.kind == KindReturning {
		return p.returning.Name
	}
	return p.form.FullName
}

// ContactNumber is the patient's own phone number.
func (p *PatientContext) ContactNumber() string {
	if p.kind == KindReturning {
		return p.returning.ContactNumber
	}
	return p.form.ContactNumber
}

// clone returns a deep copy safe to read after the wizard lock is released.
func (p *PatientContext) clone() PatientContext {
	out := PatientContext{kind: p.kind, assessment: p.assessment}
	out.assessment.Symptoms = append([]string(nil), p.assessment.Symptoms...)
	if p.form != nil {
		f := *p.form
		out.form = &f
	}
	if p.returning != nil {
		r := *p.returning
		out.returning = &r
	}
	return out
}

func (p PatientContext) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind       Kind              `json:"kind"`
		Form       *RegistrationForm `json:"form,omitempty"`
		Patient    *ReturningPatient `json:"patient,omitempty"`
		Assessment HealthAssessment  `json:"health_assessment"`
	}{Kind: p.kind, Assessment: p.assessment}
	if p.kind == KindReturning {
		out.Patient = p.returning
	} else {
		out.Form = p.form
	}
	return json.Marshal(out)
}

// ErrorClass separates local validation errors from asynchronous duplicate
// results and server-reported errors so each can be cleared on its own.
type ErrorClass string

const (
	ClassLocal     ErrorClass = "local"
	ClassDuplicate ErrorClass = "duplicate"
	ClassServer    ErrorClass = "server"
)

type FieldError struct {
	Message string     `json:"message"`
	Class   ErrorClass `json:"class"`
}

// FieldErrors maps a field name to its current error.
type FieldErrors map[string]FieldError

func (e FieldErrors) Set(field, msg string, class ErrorClass) {
	e[field] = FieldError{Message: msg, Class: class}
}

// Clear removes whatever error the field carries.
func (e FieldErrors) Clear(field string) {
	delete(e, field)
}

// ClearClass removes the field's error only if it is of the given class.
func (e FieldErrors) ClearClass(field string, class ErrorClass) {
	if fe, ok := e[field]; ok && fe.Class == class {
		delete(e, field)
	}
}

// ClearAllClass drops every error of a class, keeping the rest.
func (e FieldErrors) ClearAllClass(class ErrorClass) {
	for f, fe := range e {
		if fe.Class == class {
			delete(e, f)
		}
	}
}

func (e FieldErrors) Message(field string) string {
	return e[field].Message
}

func (e FieldErrors) clone() FieldErrors {
	out := make(FieldErrors, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Submission is one completed kiosk registration or visit, appended to the
// kiosk_submission log for reporting.
type Submission struct {
	ID                 uuid.UUID `json:"id"`
	SessionID          uuid.UUID `json:"session_id"`
	Flow               Kind      `json:"flow"`
	PatientID          string    `json:"patient_id"`
	VisitID            string    `json:"visit_id,omitempty"`
	Department         string    `json:"department"`
	QueueNumber        string    `json:"queue_number"`
	Symptoms           []string  `json:"symptoms"`
	Intake             string    `json:"intake"`
	TempRegistrationID string    `json:"temp_registration_id,omitempty"`
	Printed            bool      `json:"printed"`
	CreatedAt          time.Time `json:"created_at"`
}

// Intake sources recorded on a submission.
const (
	IntakeManual = "manual"
	IntakeQR     = "qr"
	IntakeOCR    = "ocr"
)
