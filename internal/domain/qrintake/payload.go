// Package qrintake scans kiosk camera frames for CLICARE handoff QR codes,
// validates the decoded payload against the current flow and hands accepted
// payloads to a Merger.
package qrintake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// PayloadType is the discriminator carried in every QR payload.
type PayloadType string

const (
	TypeMobileRegistration PayloadType = "mobile_registration"
	TypeWebRegRegistration PayloadType = "webreg_registration"
	TypeHealthAssessment   PayloadType = "health_assessment"
)

// IsRegistration reports whether t is one of the temp-registration types.
func (t PayloadType) IsRegistration() bool {
	return t == TypeMobileRegistration || t == TypeWebRegRegistration
}

// Known reports whether t is a supported payload type.
func (t PayloadType) Known() bool {
	return t.IsRegistration() || t == TypeHealthAssessment
}

// ErrMalformed is returned by Parse for text that is not a JSON object.
var ErrMalformed = errors.New("invalid QR code format")

// Payload is the decoded QR JSON. ExpiresAt is kept as text so an unparsable
// timestamp can be reported during validation instead of at decode time.
type Payload struct {
	Type      PayloadType `json:"type"`
	TempID    string      `json:"tempId,omitempty"`
	PatientID string      `json:"patientId,omitempty"`
	Name      string      `json:"name,omitempty"`
	Contact   string      `json:"contact,omitempty"`
	Checksum  string      `json:"checksum,omitempty"`
	ExpiresAt string      `json:"expiresAt,omitempty"`
}

// Parse decodes the text of a QR code.
func Parse(text string) (*Payload, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, ErrMalformed
	}
	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, ErrMalformed
	}
	return &p, nil
}

// Identifier returns the record id the payload points at: the temp
// registration id for registration payloads, the patient id otherwise.
func (p *Payload) Identifier() string {
	if p.Type.IsRegistration() {
		return p.TempID
	}
	return p.PatientID
}

// Checksum computes the integrity tag for a payload: the first 16 hex
// characters of SHA-256 over "type|id|name|contact".
func Checksum(p *Payload) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(p.Type), p.Identifier(), p.Name, p.Contact,
	}, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
