package registration

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
)

func testCatalog() Catalog {
	return Catalog{
		{Category: "General", Symptoms: []string{"Fever", "Headache", "Fatigue"}},
		{Category: "Respiratory", Symptoms: []string{"Cough", "Shortness of breath"}},
		{Category: "Routine Care", Symptoms: []string{"Annual check-up", "Vaccination"}, IsRoutineCare: true},
	}
}

func TestToggle_AddRemove(t *testing.T) {
	var a HealthAssessment
	if !a.Toggle("Fever") {
		t.Fatal("first toggle should select")
	}
	a.Toggle("Cough")
	a.Toggle("Headache")
	if a.Toggle("Cough") {
		t.Fatal("second toggle should deselect")
	}
	if want := []string{"Fever", "Headache"}; !slices.Equal(a.Symptoms, want) {
		t.Errorf("Symptoms = %v, want %v", a.Symptoms, want)
	}
}

// Toggling the same symptom twice restores the selection, including order.
func TestToggle_TwiceRestoresProperty(t *testing.T) {
	pool := []string{"Fever", "Headache", "Fatigue", "Cough", "Vaccination", "Rash"}
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		var a HealthAssessment
		for j := r.Intn(len(pool)); j > 0; j-- {
			a.Toggle(pool[r.Intn(len(pool))])
		}
		before := slices.Clone(a.Symptoms)
		s := pool[r.Intn(len(pool))]
		a.Toggle(s)
		a.Toggle(s)

		if slices.Contains(before, s) {
			// removal then append moves the symptom to the end
			if len(a.Symptoms) != len(before) || a.Symptoms[len(a.Symptoms)-1] != s {
				t.Fatalf("toggle twice of selected %q: %v -> %v", s, before, a.Symptoms)
			}
			rest := slices.DeleteFunc(slices.Clone(before), func(x string) bool { return x == s })
			if !slices.Equal(a.Symptoms[:len(a.Symptoms)-1], rest) {
				t.Fatalf("relative order changed: %v -> %v", before, a.Symptoms)
			}
			continue
		}
		if !slices.Equal(a.Symptoms, before) {
			t.Fatalf("toggle twice of %q changed %v to %v", s, before, a.Symptoms)
		}
	}
}

func TestCatalog_SelectedCounts(t *testing.T) {
	c := testCatalog()
	got := c.SelectedCounts([]string{"Cough", "Fever", "Headache"})
	want := map[string]int{"General": 2, "Respiratory": 1, "Routine Care": 0}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("count[%s] = %d, want %d", k, got[k], v)
		}
	}
	if !c.Contains("Vaccination") || c.Contains("Toothache") {
		t.Error("Contains mismatch")
	}
}

func TestCatalog_OnlyRoutineCare(t *testing.T) {
	c := testCatalog()
	tests := []struct {
		selected []string
		want     bool
	}{
		{nil, false},
		{[]string{"Annual check-up"}, true},
		{[]string{"Annual check-up", "Vaccination"}, true},
		{[]string{"Annual check-up", "Fever"}, false},
		{[]string{"Unknown"}, false},
	}
	for _, tt := range tests {
		if got := c.OnlyRoutineCare(tt.selected); got != tt.want {
			t.Errorf("OnlyRoutineCare(%v) = %v, want %v", tt.selected, got, tt.want)
		}
	}
}

func intp(v int) *int { return &v }

func testMappings() []backend.DepartmentMapping {
	return []backend.DepartmentMapping{
		{Symptom: "Fever", Department: "Pediatrics", MaxAge: intp(17)},
		{Symptom: "Fever", Department: "Internal Medicine", MinAge: intp(18)},
		{Symptom: "Cough", Department: "Pulmonology"},
		{Symptom: "Headache", Department: "Neurology"},
	}
}

func TestRecommend(t *testing.T) {
	m := testMappings()
	tests := []struct {
		name     string
		selected []string
		age      int
		want     string
	}{
		{"age filters rows", []string{"Fever"}, 8, "Pediatrics"},
		{"adult row", []string{"Fever"}, 40, "Internal Medicine"},
		{"selection order breaks ties", []string{"Cough", "Headache"}, 30, "Pulmonology"},
		{"reverse order", []string{"Headache", "Cough"}, 30, "Neurology"},
		{"unmapped first symptom skipped", []string{"Rash", "Headache"}, 30, "Neurology"},
		{"no match", []string{"Rash"}, 30, "General Medicine"},
		{"empty selection", nil, 30, "General Medicine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recommend(m, tt.selected, tt.age, "General Medicine"); got != tt.want {
				t.Errorf("Recommend = %q, want %q", got, tt.want)
			}
		})
	}
}

type mappingSource struct {
	rows []backend.DepartmentMapping
	err  error
}

func (s mappingSource) DepartmentMappings(context.Context) ([]backend.DepartmentMapping, error) {
	return s.rows, s.err
}

func TestDepartmentMapper(t *testing.T) {
	ok := NewDepartmentMapper(mappingSource{rows: testMappings()}, "Internal Medicine", zerolog.Nop())
	if got := ok.Recommend(context.Background(), []string{"Cough"}, 50); got != "Pulmonology" {
		t.Errorf("Recommend = %q", got)
	}

	failing := NewDepartmentMapper(mappingSource{err: errors.New("boom")}, "Internal Medicine", zerolog.Nop())
	if got := failing.Recommend(context.Background(), []string{"Cough"}, 50); got != "Internal Medicine" {
		t.Errorf("fetch failure should fall back, got %q", got)
	}
	if failing.Fallback() != "Internal Medicine" {
		t.Error("Fallback mismatch")
	}
}
