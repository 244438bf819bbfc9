package registration

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Validators return "" for a valid value or the message shown under the field.

var (
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	addressSeparator = regexp.MustCompile(`[,\s]+`)
	nonDigit         = regexp.MustCompile(`\D`)
)

const birthdayLayout = "2006-01-02"

// MaxAgeYears is the oldest age the kiosk accepts.
const MaxAgeYears = 120

func ValidateName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Full name is required"
	}
	if strings.Contains(name, ".") {
		return "Please enter your full name without initials or periods"
	}
	if len(strings.Fields(name)) < 2 {
		return "Please enter your full name (first and last name)"
	}
	return ""
}

func ValidateAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "Address is required"
	}
	parts := 0
	for _, p := range addressSeparator.Split(addr, -1) {
		if p != "" {
			parts++
		}
	}
	if parts < 4 {
		return "Please enter your complete address (house no., street, barangay, city, province)"
	}
	return ""
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	return nonDigit.ReplaceAllString(phone, "")
}

func ValidatePhone(phone string) string {
	if strings.TrimSpace(phone) == "" {
		return "Contact number is required"
	}
	d := NormalizePhone(phone)
	if len(d) != 11 || !strings.HasPrefix(d, "09") {
		return "Contact number must be 11 digits starting with 09"
	}
	return ""
}

func ValidateEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "Email address is required"
	}
	if !emailPattern.MatchString(email) {
		return "Please enter a valid email address"
	}
	return ""
}

var (
	ErrInvalidBirthday = errors.New("invalid birthday")
	ErrFutureBirthday  = errors.New("birthday is in the future")
	ErrAgeTooHigh      = errors.New("age exceeds maximum")
)

// Age is a calendar-correct difference between a birthday and today.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// String renders whole years as a plain number and sub-year ages in words.
func (a Age) String() string {
	switch {
	case a.Years > 0:
		return strconv.Itoa(a.Years)
	case a.Months > 0:
		return plural(a.Months, "month") + " old"
	default:
		return plural(a.Days, "day") + " old"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ComputeAge subtracts birthday from now with day and month borrowing. Both
// are compared as calendar dates in now's location.
func ComputeAge(birthday, now time.Time) (Age, error) {
	b := time.Date(birthday.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, now.Location())
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if b.After(n) {
		return Age{}, ErrFutureBirthday
	}

	years := n.Year() - b.Year()
	months := int(n.Month()) - int(b.Month())
	days := n.Day() - b.Day()
	if days < 0 {
		// borrow from the month before today's month, clamping birthdays
		// that fall past its last day
		months--
		days = max(daysIn(n.Year(), n.Month()-1)-b.Day(), 0) + n.Day()
	}
	if months < 0 {
		years--
		months += 12
	}

	age := Age{Years: years, Months: months, Days: days}
	if years > MaxAgeYears || (years == MaxAgeYears && (months > 0 || days > 0)) {
		return age, ErrAgeTooHigh
	}
	return age, nil
}

func daysIn(year int, month time.Month) int {
	// day 0 of the next month is the last day of month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseBirthday reads a YYYY-MM-DD date.
func ParseBirthday(s string) (time.Time, error) {
	t, err := time.Parse(birthdayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidBirthday
	}
	return t, nil
}

// AgeFromBirthday validates a birthday string and returns the age text, or
// the error message for the birthday field.
func AgeFromBirthday(s string, now time.Time) (age string, msg string) {
	if strings.TrimSpace(s) == "" {
		return "", "Birthday is required"
	}
	b, err := ParseBirthday(s)
	if err != nil {
		return "", "Please enter a valid birthday"
	}
	a, err := ComputeAge(b, now)
	switch {
	case errors.Is(err, ErrFutureBirthday):
		return "", "Birthday cannot be in the future"
	case errors.Is(err, ErrAgeTooHigh):
		return "", "Please enter a valid birthday (age cannot exceed 120 years)"
	}
	return a.String(), ""
}

// AgeYears returns whole years for department mapping; unknown or invalid
// birthdays count as zero.
func AgeYears(birthday string, now time.Time) int {
	b, err := ParseBirthday(birthday)
	if err != nil {
		return 0
	}
	a, err := ComputeAge(b, now)
	if err != nil && !errors.Is(err, ErrAgeTooHigh) {
		return 0
	}
	return a.Years
}

// SameNumber reports whether two phone numbers have the same digits.
func SameNumber(a, b string) bool {
	da, db := NormalizePhone(a), NormalizePhone(b)
	return da != "" && da == db
}
