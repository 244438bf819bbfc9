package qrintake

import (
	"strings"
	"time"
)

// Flow selects which payload types the kiosk accepts.
type Flow int

const (
	FlowNewPatient Flow = iota
	FlowReturningPatient
)

// Rejection reasons, in the order the checks run.
const (
	ReasonFormat    = "format"
	ReasonType      = "type"
	ReasonRequired  = "required"
	ReasonOwnership = "ownership"
	ReasonChecksum  = "checksum"
	ReasonExpired   = "expired"

	// ReasonFetch marks a valid payload whose record could not be loaded.
	ReasonFetch = "fetch"
)

// RejectError explains why a decoded payload was not merged.
type RejectError struct {
	Reason  string
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(reason, msg string) *RejectError {
	return &RejectError{Reason: reason, Message: msg}
}

// ValidationContext is the wizard state a payload is checked against.
type ValidationContext struct {
	Flow      Flow
	PatientID string
	Now       time.Time
}

// Validate runs the checks in fixed order: type, required fields, ownership,
// checksum, expiry. The first failure wins.
func Validate(p *Payload, vc ValidationContext) error {
	if err := checkType(p, vc.Flow); err != nil {
		return err
	}

	if p.Type.IsRegistration() {
		if strings.TrimSpace(p.TempID) == "" || strings.TrimSpace(p.Name) == "" {
			return reject(ReasonRequired, "QR code is missing the registration ID or patient name.")
		}
	} else if strings.TrimSpace(p.PatientID) == "" {
		return reject(ReasonRequired, "QR code is missing the patient ID.")
	}

	if p.Type == TypeHealthAssessment && p.PatientID != vc.PatientID {
		return reject(ReasonOwnership, "This health assessment belongs to a different patient. Please scan your own QR code.")
	}

	if p.Checksum != "" && !strings.EqualFold(p.Checksum, Checksum(p)) {
		return reject(ReasonChecksum, "QR code verification failed. The code may be damaged or altered.")
	}

	if p.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, p.ExpiresAt)
		if err != nil {
			return reject(ReasonExpired, "QR code has an invalid expiry date.")
		}
		if vc.Now.After(exp) {
			return reject(ReasonExpired, "This QR code has expired. Please generate a new one.")
		}
	}
	return nil
}

func checkType(p *Payload, flow Flow) error {
	if !p.Type.Known() {
		return reject(ReasonType, "Unrecognized QR code. Please scan a CLICARE registration or health assessment QR code.")
	}
	switch flow {
	case FlowReturningPatient:
		if p.Type.IsRegistration() {
			return reject(ReasonType, "This is a new patient registration QR code. Returning patients should scan their health assessment QR code.")
		}
	default:
		if p.Type == TypeHealthAssessment {
			return reject(ReasonType, "This is a health assessment QR code for returning patients. New patients should scan their registration QR code.")
		}
	}
	return nil
}
