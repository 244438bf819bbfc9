package backend

import (
	"fmt"
	"time"
)

// APIError is the error body returned by the hospital backend. Field is set
// when the backend attributes the failure to a single form field.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Err
	}
	if e.Field != "" {
		return fmt.Sprintf("backend %d: %s (field %s)", e.Status, msg, e.Field)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, msg)
}

// Text returns the human-readable message regardless of which key the backend used.
func (e *APIError) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err
}

// SymptomCategory is one entry of GET /api/symptoms.
type SymptomCategory struct {
	Category      string   `json:"category"`
	Symptoms      []string `json:"symptoms"`
	IsRoutineCare bool     `json:"is_routine_care"`
	Description   string   `json:"description,omitempty"`
}

// DepartmentMapping is one row of GET /api/symptom-department-mapping. A nil
// bound means the range is open on that side.
type DepartmentMapping struct {
	Symptom    string `json:"symptom"`
	Department string `json:"department"`
	MinAge     *int   `json:"min_age,omitempty"`
	MaxAge     *int   `json:"max_age,omitempty"`
}

// Covers reports whether age (in whole years) falls inside the row's range.
func (m DepartmentMapping) Covers(age int) bool {
	if m.MinAge != nil && age < *m.MinAge {
		return false
	}
	if m.MaxAge != nil && age > *m.MaxAge {
		return false
	}
	return true
}

// Option is a generic value/label pair used by the lookup endpoints.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// TimeSlot is one entry of GET /api/time-slots.
type TimeSlot struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	Available bool   `json:"available"`
}

// Lookups bundles the option lists the wizard loads once per session.
type Lookups struct {
	TimeSlots       []TimeSlot `json:"time_slots"`
	Relationships   []Option   `json:"relationships"`
	SeverityLevels  []Option   `json:"severity_levels"`
	DurationOptions []Option   `json:"duration_options"`
}

// DuplicateCheckRequest is the body of POST /api/check-duplicate.
type DuplicateCheckRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// DuplicateCheckResponse reports whether the value already belongs to a patient.
type DuplicateCheckResponse struct {
	Exists  bool   `json:"exists"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// Assessment is the health questionnaire as exchanged with the backend.
type Assessment struct {
	Symptoms          []string `json:"symptoms"`
	Duration          string   `json:"duration,omitempty"`
	Severity          string   `json:"severity,omitempty"`
	PreviousTreatment string   `json:"previous_treatment,omitempty"`
	Allergies         string   `json:"allergies,omitempty"`
	Medications       string   `json:"medications,omitempty"`
	PreferredDate     string   `json:"preferred_date,omitempty"`
	PreferredTime     string   `json:"preferred_time,omitempty"`
}

// RegisterRequest is the body of POST /api/patient/register.
type RegisterRequest struct {
	FullName              string     `json:"full_name"`
	Sex                   string     `json:"sex"`
	Birthday              string     `json:"birthday"`
	Age                   string     `json:"age"`
	Address               string     `json:"address"`
	ContactNumber         string     `json:"contact_no"`
	Email                 string     `json:"email"`
	EmergencyContactName  string     `json:"emergency_contact_name"`
	EmergencyContactNo    string     `json:"emergency_contact_no"`
	EmergencyRelationship string     `json:"emergency_contact_relationship"`
	IDType                string     `json:"id_type,omitempty"`
	IDNumber              string     `json:"id_number,omitempty"`
	Department            string     `json:"department"`
	TempRegistrationID    string     `json:"temp_registration_id,omitempty"`
	Assessment            Assessment `json:"health_assessment"`
}

// VisitRequest is the body of POST /api/patient/visit.
type VisitRequest struct {
	PatientID          string     `json:"patient_id"`
	Department         string     `json:"department"`
	TempRegistrationID string     `json:"temp_registration_id,omitempty"`
	Assessment         Assessment `json:"health_assessment"`
}

// SubmissionResult carries the server-issued identifiers after registration.
type SubmissionResult struct {
	PatientID   string `json:"patient_id"`
	VisitID     string `json:"visit_id,omitempty"`
	Department  string `json:"department"`
	QueueNumber string `json:"queue_number"`
	Message     string `json:"message,omitempty"`
}

// TempRegistration is the server-held draft referenced by a registration QR code.
type TempRegistration struct {
	TempID                string     `json:"temp_id"`
	FullName              string     `json:"full_name"`
	Sex                   string     `json:"sex,omitempty"`
	Birthday              string     `json:"birthday,omitempty"`
	Address               string     `json:"address,omitempty"`
	ContactNumber         string     `json:"contact_no,omitempty"`
	Email                 string     `json:"email,omitempty"`
	EmergencyContactName  string     `json:"emergency_contact_name,omitempty"`
	EmergencyContactNo    string     `json:"emergency_contact_no,omitempty"`
	EmergencyRelationship string     `json:"emergency_contact_relationship,omitempty"`
	Assessment            Assessment `json:"health_assessment"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
}

// HealthAssessmentRecord is returned by GET /api/health-assessment/{id}.
type HealthAssessmentRecord struct {
	PatientID  string     `json:"patient_id"`
	Assessment Assessment `json:"health_assessment"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IDImageUpload describes a captured ID frame posted to POST /api/upload-id-image.
type IDImageUpload struct {
	PatientID   string
	IDType      string
	FileName    string
	ContentType string
	Content     []byte
}

// QueueEntry is one row of GET /api/queue/today.
type QueueEntry struct {
	QueueNumber string `json:"queue_number"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Department  string `json:"department"`
	Status      string `json:"status"`
}
