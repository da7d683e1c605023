// Package progressbar derives a completion percentage from the live controls
// of a form and renders it into an indicator.
package progressbar

import (
	"math"
	"strings"

	"github.com/JakeFAU/onboard-forms/internal/form"
)

// DefaultExclusions are name prefixes of staff-only fields that never count
// toward completion.
var DefaultExclusions = []string{"bearer", "docCheck", "onboardingDate", "staffResponsible"}

// Snapshot is the result of one calculation.
type Snapshot struct {
	Percentage   int `json:"percentage"`
	FieldsFilled int `json:"fields_filled"`
	FieldsTotal  int `json:"fields_total"`
}

// Eligible reports whether c counts toward the denominator.
func Eligible(c *form.Control, exclusions []string) bool {
	if c == nil || c.Name == "" || c.ReadOnly {
		return false
	}
	switch c.Type {
	case form.TypeHidden, form.TypeSubmit, form.TypeButton, form.TypeFile:
		// File controls are neither persisted nor restored, so they never
		// count toward completion.
		return false
	}
	for _, prefix := range exclusions {
		if prefix != "" && strings.HasPrefix(c.Name, prefix) {
			return false
		}
	}
	return true
}

// Calculate scans the form and returns its completion. Checkbox and radio
// controls sharing a name count as one field, filled when any member is
// checked. A form without eligible controls is 0%.
func Calculate(f *form.Form, exclusions []string) Snapshot {
	if f == nil {
		return Snapshot{}
	}
	var snap Snapshot
	groups := make(map[string]bool)
	for _, c := range f.Controls() {
		if !Eligible(c, exclusions) {
			continue
		}
		if c.Type.IsToggle() {
			checked, seen := groups[c.Name]
			if !seen {
				snap.FieldsTotal++
			}
			if c.Checked && !checked {
				snap.FieldsFilled++
			}
			groups[c.Name] = checked || c.Checked
			continue
		}
		snap.FieldsTotal++
		if strings.TrimSpace(c.Value) != "" {
			snap.FieldsFilled++
		}
	}
	if snap.FieldsTotal == 0 {
		return snap
	}
	snap.Percentage = int(math.Round(float64(snap.FieldsFilled) / float64(snap.FieldsTotal) * 100))
	return snap
}
