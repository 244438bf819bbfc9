package registration

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"Juan Dela Cruz", true},
		{"  Maria   Santos ", true},
		{"Juan D. Cruz", false},
		{"Juan", false},
		{"", false},
		{"J.R. Reyes", false},
	}
	for _, tt := range tests {
		got := ValidateName(tt.in)
		if (got == "") != tt.valid {
			t.Errorf("ValidateName(%q) = %q, want valid=%v", tt.in, got, tt.valid)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	if msg := ValidateAddress("123 Rizal St, Brgy San Jose, Quezon City"); msg != "" {
		t.Errorf("expected valid address, got %q", msg)
	}
	if msg := ValidateAddress("Quezon City, Metro Manila"); msg == "" {
		t.Error("expected error for a three component address")
	}
	if msg := ValidateAddress(" , , "); msg == "" {
		t.Error("expected error for separators only")
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"09171234567", true},
		{"0917-123-4567", true},
		{"(0917) 123 4567", true},
		{"+639171234567", false},
		{"0917123456", false},
		{"091712345678", false},
		{"19171234567", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidatePhone(tt.in); (got == "") != tt.valid {
			t.Errorf("ValidatePhone(%q) = %q, want valid=%v", tt.in, got, tt.valid)
		}
	}
}

// ValidatePhone accepts exactly the strings whose digits are 11 long and
// start with 09.
func TestValidatePhone_Property(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	alphabet := []rune("0123456789 -()+x")
	for i := 0; i < 2000; i++ {
		n := r.Intn(16)
		s := make([]rune, n)
		for j := range s {
			s[j] = alphabet[r.Intn(len(alphabet))]
		}
		if r.Intn(3) == 0 {
			s = append([]rune("09"), s...)
		}
		in := string(s)
		d := NormalizePhone(in)
		want := len(d) == 11 && d[:2] == "09"
		if got := ValidatePhone(in) == ""; got != want {
			t.Fatalf("ValidatePhone(%q) valid=%v, want %v", in, got, want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"juan@example.com", "a.b+c@clinic.ph"}
	invalid := []string{"", "juan", "juan@example", "juan@@example.com", "ju an@example.com"}
	for _, e := range valid {
		if msg := ValidateEmail(e); msg != "" {
			t.Errorf("ValidateEmail(%q) = %q", e, msg)
		}
	}
	for _, e := range invalid {
		if ValidateEmail(e) == "" {
			t.Errorf("ValidateEmail(%q) expected error", e)
		}
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeAge(t *testing.T) {
	now := date(2026, 3, 10)
	tests := []struct {
		birthday time.Time
		want     Age
		text     string
	}{
		{date(1990, 5, 14), Age{35, 9, 24}, "35"},
		{date(2026, 3, 10), Age{0, 0, 0}, "0 days old"},
		{date(2026, 3, 9), Age{0, 0, 1}, "1 day old"},
		{date(2025, 12, 10), Age{0, 3, 0}, "3 months old"},
		{date(2025, 2, 10), Age{1, 1, 0}, "1"},
		{date(2026, 1, 31), Age{0, 1, 10}, "1 month old"},
	}
	for _, tt := range tests {
		got, err := ComputeAge(tt.birthday, now)
		if err != nil {
			t.Fatalf("ComputeAge(%s): %v", tt.birthday.Format(birthdayLayout), err)
		}
		if got != tt.want {
			t.Errorf("ComputeAge(%s) = %+v, want %+v", tt.birthday.Format(birthdayLayout), got, tt.want)
		}
		if got.String() != tt.text {
			t.Errorf("Age(%+v).String() = %q, want %q", got, got.String(), tt.text)
		}
	}
}

func TestComputeAge_Rejects(t *testing.T) {
	now := date(2026, 3, 10)
	if _, err := ComputeAge(date(2026, 3, 11), now); !errors.Is(err, ErrFutureBirthday) {
		t.Errorf("expected ErrFutureBirthday, got %v", err)
	}
	if _, err := ComputeAge(date(1905, 3, 9), now); !errors.Is(err, ErrAgeTooHigh) {
		t.Errorf("expected ErrAgeTooHigh, got %v", err)
	}
	if _, err := ComputeAge(date(1906, 3, 10), now); err != nil {
		t.Errorf("exactly 120 years should be accepted, got %v", err)
	}
}

func less(a, b Age) bool {
	if a.Years != b.Years {
		return a.Years < b.Years
	}
	if a.Months != b.Months {
		return a.Months < b.Months
	}
	return a.Days < b.Days
}

// Ages are non-negative and never grow as the birthday moves later.
func TestComputeAge_MonotoneProperty(t *testing.T) {
	for _, now := range []time.Time{date(2026, 3, 1), date(2024, 2, 29), date(2026, 12, 31), date(2026, 7, 15)} {
		prev, err := ComputeAge(now.AddDate(-MaxAgeYears, 0, 0), now)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		for b := now.AddDate(-MaxAgeYears, 0, 1); !b.After(now); b = b.AddDate(0, 0, 1) {
			age, err := ComputeAge(b, now)
			if err != nil {
				t.Fatalf("ComputeAge(%s, %s): %v", b.Format(birthdayLayout), now.Format(birthdayLayout), err)
			}
			if age.Years < 0 || age.Months < 0 || age.Days < 0 {
				t.Fatalf("negative age %+v for %s", age, b.Format(birthdayLayout))
			}
			if less(prev, age) {
				t.Fatalf("age grew from %+v to %+v at %s (now %s)", prev, age, b.Format(birthdayLayout), now.Format(birthdayLayout))
			}
			prev = age
		}
	}
}

func TestAgeFromBirthday(t *testing.T) {
	now := date(2026, 3, 10)
	cases := map[string]string{
		"":           "Birthday is required",
		"10/05/1990": "Please enter a valid birthday",
		"2027-01-01": "Birthday cannot be in the future",
		"1800-01-01": "Please enter a valid birthday (age cannot exceed 120 years)",
	}
	for in, want := range cases {
		if _, msg := AgeFromBirthday(in, now); msg != want {
			t.Errorf("AgeFromBirthday(%q) msg = %q, want %q", in, msg, want)
		}
	}
	age, msg := AgeFromBirthday("2000-03-10", now)
	if msg != "" || age != "26" {
		t.Errorf("expected 26, got %q %q", age, msg)
	}
	if got := AgeYears("2020-03-11", now); got != 5 {
		t.Errorf("AgeYears = %d, want 5", got)
	}
	if got := AgeYears("bogus", now); got != 0 {
		t.Errorf("AgeYears(bogus) = %d, want 0", got)
	}
}

func TestSameNumber(t *testing.T) {
	if !SameNumber("0917-123-4567", "09171234567") {
		t.Error("formatting differences should not matter")
	}
	if SameNumber("", "") {
		t.Error("two blank numbers are not the same number")
	}
	if SameNumber("09171234567", fmt.Sprint("0917123456", 8)) {
		t.Error("different numbers reported equal")
	}
}
