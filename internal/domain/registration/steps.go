package registration

import (
	"strings"
	"time"
)

// StepKind names what a step index shows. New patients use steps 1-6 and
// returning patients reuse 4-7, so the same index can mean different pages.
type StepKind string

const (
	StepPersonal    StepKind = "personal"
	StepEmergency   StepKind = "emergency"
	StepReview      StepKind = "review"
	StepPatientInfo StepKind = "patient-info"
	StepSymptoms    StepKind = "symptoms"
	StepDetails     StepKind = "details"
	StepSummary     StepKind = "summary"
)

var flowSteps = map[Kind][]StepKind{
	KindNew:       {StepPersonal, StepEmergency, StepReview, StepSymptoms, StepDetails, StepSummary},
	KindReturning: {StepPatientInfo, StepSymptoms, StepDetails, StepSummary},
}

// StepRange returns the first and last step index of a flow.
func StepRange(k Kind) (first, last int) {
	if k == KindReturning {
		return 4, 7
	}
	return 1, 6
}

// StepKindOf maps a step index to its page for the flow, or "" when out of range.
func StepKindOf(k Kind, step int) StepKind {
	first, last := StepRange(k)
	if step < first || step > last {
		return ""
	}
	return flowSteps[k][step-first]
}

// stepFields lists the fields shown on each page, used to decide which
// errors block advancing from it.
var stepFields = map[StepKind][]string{
	StepPersonal:  {FieldFullName, FieldSex, FieldBirthday, FieldAddress, FieldContactNo, FieldEmail},
	StepEmergency: {FieldEmergencyName, FieldEmergencyNo, FieldEmergencyRelationship},
	StepReview:    {FieldConsent},
	StepSymptoms:  {FieldSymptoms},
	StepDetails:   {FieldDuration, FieldSeverity, FieldPreferredDate, FieldPreferredTime},
}

// checkStep runs the local validators for one step and returns the errors
// found, keyed by field. Values are read from the context as given.
func checkStep(kind StepKind, p *PatientContext, catalog Catalog, now time.Time) map[string]string {
	errs := make(map[string]string)
	add := func(field, msg string) {
		if msg != "" {
			errs[field] = msg
		}
	}

	switch kind {
	case StepPersonal:
		f, _ := p.Form()
		add(FieldFullName, ValidateName(f.FullName))
		if strings.TrimSpace(f.Sex) == "" {
			add(FieldSex, "Please select your sex")
		}
		_, msg := AgeFromBirthday(f.Birthday, now)
		add(FieldBirthday, msg)
		add(FieldAddress, ValidateAddress(f.Address))
		add(FieldContactNo, ValidatePhone(f.ContactNumber))
		add(FieldEmail, ValidateEmail(f.Email))

	case StepEmergency:
		f, _ := p.Form()
		if strings.TrimSpace(f.EmergencyContactName) == "" {
			add(FieldEmergencyName, "Emergency contact name is required")
		}
		if msg := ValidatePhone(f.EmergencyContactNo); msg != "" {
			add(FieldEmergencyNo, msg)
		} else if SameNumber(f.EmergencyContactNo, f.ContactNumber) {
			add(FieldEmergencyNo, "Emergency contact number cannot be the same as your contact number")
		}
		if strings.TrimSpace(f.EmergencyRelationship) == "" {
			add(FieldEmergencyRelationship, "Please select your relationship to the emergency contact")
		}

	case StepReview:
		f, _ := p.Form()
		if !f.Consent {
			add(FieldConsent, "Please agree to the data privacy consent to continue")
		}

	case StepSymptoms:
		if len(p.Assessment().Symptoms) == 0 {
			add(FieldSymptoms, "Please select at least one symptom")
		}

	case StepDetails:
		a := p.Assessment()
		if !catalog.OnlyRoutineCare(a.Symptoms) {
			if strings.TrimSpace(a.Duration) == "" {
				add(FieldDuration, "Please select how long you have had these symptoms")
			}
			if strings.TrimSpace(a.Severity) == "" {
				add(FieldSeverity, "Please select how severe your symptoms are")
			}
		}
		if a.PreferredDate != "" {
			d, err := time.ParseInLocation(birthdayLayout, a.PreferredDate, now.Location())
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			if err != nil || d.Before(today) {
				add(FieldPreferredDate, "Please choose today or a future date")
			}
		}
	}
	return errs
}
