package registration

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
)

var ErrUnknownSymptom = errors.New("symptom is not in the catalog")

// Toggle adds symptom to the selection or removes it. Removal keeps the
// relative order of the remaining symptoms. It reports whether the symptom
// is selected afterwards.
func (a *HealthAssessment) Toggle(symptom string) bool {
	if i := slices.Index(a.Symptoms, symptom); i >= 0 {
		a.Symptoms = slices.Delete(a.Symptoms, i, i+1)
		return false
	}
	a.Symptoms = append(a.Symptoms, symptom)
	return true
}

// Catalog is the read-only symptom catalog of one session.
type Catalog []backend.SymptomCategory

// Contains reports whether any category lists symptom.
func (c Catalog) Contains(symptom string) bool {
	for _, cat := range c {
		if slices.Contains(cat.Symptoms, symptom) {
			return true
		}
	}
	return false
}

// SelectedCounts returns the number of selected symptoms per category name.
// Categories with nothing selected are present with zero.
func (c Catalog) SelectedCounts(selected []string) map[string]int {
	out := make(map[string]int, len(c))
	for _, cat := range c {
		n := 0
		for _, s := range cat.Symptoms {
			if slices.Contains(selected, s) {
				n++
			}
		}
		out[cat.Category] = n
	}
	return out
}

// OnlyRoutineCare reports whether every selected symptom belongs to a
// routine-care category. An empty selection is not routine care.
func (c Catalog) OnlyRoutineCare(selected []string) bool {
	if len(selected) == 0 {
		return false
	}
	for _, s := range selected {
		routine := false
		for _, cat := range c {
			if cat.IsRoutineCare && slices.Contains(cat.Symptoms, s) {
				routine = true
				break
			}
		}
		if !routine {
			return false
		}
	}
	return true
}

// Recommend walks the selected symptoms in selection order and returns the
// department of the first mapping row whose symptom matches and whose age
// range covers age. Without a match it returns fallback.
func Recommend(mappings []backend.DepartmentMapping, selected []string, age int, fallback string) string {
	for _, s := range selected {
		for _, m := range mappings {
			if m.Symptom == s && m.Covers(age) && m.Department != "" {
				return m.Department
			}
		}
	}
	return fallback
}

// MappingSource loads the symptom to department table.
type MappingSource interface {
	DepartmentMappings(ctx context.Context) ([]backend.DepartmentMapping, error)
}

// DepartmentMapper recommends a department, falling back to a fixed one when
// the mapping table cannot be loaded.
type DepartmentMapper struct {
	source   MappingSource
	fallback string
	logger   zerolog.Logger
}

func NewDepartmentMapper(source MappingSource, fallback string, logger zerolog.Logger) *DepartmentMapper {
	return &DepartmentMapper{source: source, fallback: fallback, logger: logger}
}

func (m *DepartmentMapper) Recommend(ctx context.Context, selected []string, age int) string {
	mappings, err := m.source.DepartmentMappings(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("department mapping unavailable, using default department")
		return m.fallback
	}
	return Recommend(mappings, selected, age, m.fallback)
}

// Fallback is the department used when nothing matches.
func (m *DepartmentMapper) Fallback() string { return m.fallback }
