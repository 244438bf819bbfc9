// Package idcapture photographs a government ID with the kiosk camera, runs
// it through OCR and merges the recognized fields into the registration form.
package idcapture

import "strings"

// IDType is a supported identification document.
type IDType string

const (
	NationalID      IDType = "national_id"
	DriversLicense  IDType = "drivers_license"
	Passport        IDType = "passport"
	UMID            IDType = "umid"
	PhilHealth      IDType = "philhealth"
	SeniorCitizenID IDType = "senior_citizen_id"
	StudentID       IDType = "student_id"
)

// Form field names OCR results are keyed by.
const (
	FieldFullName = "full_name"
	FieldSex      = "sex"
	FieldBirthday = "birthday"
	FieldAddress  = "address"
	FieldIDNumber = "id_number"
)

// fieldSets lists, per ID type, which recognized fields are trusted enough to
// merge. The order is the order fields are applied.
var fieldSets = map[IDType][]string{
	NationalID:      {FieldFullName, FieldBirthday, FieldAddress, FieldSex, FieldIDNumber},
	DriversLicense:  {FieldFullName, FieldBirthday, FieldAddress, FieldIDNumber},
	Passport:        {FieldFullName, FieldBirthday, FieldSex, FieldIDNumber},
	UMID:            {FieldFullName, FieldBirthday, FieldAddress, FieldIDNumber},
	PhilHealth:      {FieldFullName, FieldBirthday, FieldIDNumber},
	SeniorCitizenID: {FieldFullName, FieldBirthday},
	StudentID:       {FieldFullName},
}

var labels = map[IDType]string{
	NationalID:      "Philippine National ID",
	DriversLicense:  "Driver's License",
	Passport:        "Passport",
	UMID:            "UMID",
	PhilHealth:      "PhilHealth ID",
	SeniorCitizenID: "Senior Citizen ID",
	StudentID:       "Student ID",
}

// Supported reports whether t is a known ID type.
func (t IDType) Supported() bool {
	_, ok := fieldSets[t]
	return ok
}

// Label is the display name of the ID type.
func (t IDType) Label() string {
	return labels[t]
}

// FieldSet returns the fields merged for t.
func (t IDType) FieldSet() []string {
	return fieldSets[t]
}

// SupportedTypes lists every ID type in display order.
func SupportedTypes() []IDType {
	return []IDType{NationalID, DriversLicense, Passport, UMID, PhilHealth, SeniorCitizenID, StudentID}
}

// Filter keeps the recognized fields that belong to t's field set and carry
// a non-blank value. Fields the OCR did not return are simply absent, so a
// merge never blanks what the patient already typed.
func Filter(t IDType, fields map[string]string) map[string]string {
	out := make(map[string]string)
	for _, name := range t.FieldSet() {
		v := strings.TrimSpace(fields[name])
		if v != "" {
			out[name] = v
		}
	}
	return out
}
