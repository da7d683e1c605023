package restore

import (
	"slices"
	"sort"

	"github.com/JakeFAU/onboard-forms/internal/form"
)

// Apply writes state into f and returns the number of fields that received a
// meaningful value. Keys without a matching control and file inputs are
// skipped. A change event is dispatched for every control written.
func Apply(f *form.Form, state form.State) int {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		loaded  int
		touched []*form.Control
	)
	for _, key := range keys {
		el, ok := f.Element(key)
		if !ok {
			continue
		}
		value := state[key]
		first := el.First()
		switch {
		case first.Type == form.TypeFile:
			continue
		case first.Type == form.TypeCheckbox && !el.IsGroup():
			first.Checked = value.Truthy()
			if first.Checked {
				loaded++
			}
			touched = append(touched, first)
		case first.Type == form.TypeCheckbox:
			var selected []string
			if value.Kind == form.KindList {
				selected = value.List
			}
			for _, box := range el.Controls {
				box.Checked = slices.Contains(selected, box.Value)
				touched = append(touched, box)
			}
			if len(selected) > 0 {
				loaded++
			}
		case first.Type == form.TypeRadio:
			if applyRadio(el.Controls, value) {
				loaded++
				touched = append(touched, el.Controls...)
			}
		default:
			assignScalar(first, value)
			if value.Truthy() {
				loaded++
			}
			touched = append(touched, first)
		}
	}
	for _, c := range touched {
		f.Dispatch(form.Event{Type: form.EventChange, Target: c})
	}
	return loaded
}

// applyRadio selects the option whose value equals a string value. The group
// is left untouched when nothing matches.
func applyRadio(radios []*form.Control, value form.Value) bool {
	if value.Kind != form.KindString {
		return false
	}
	idx := slices.IndexFunc(radios, func(c *form.Control) bool { return c.Value == value.Str })
	if idx < 0 {
		return false
	}
	for i, r := range radios {
		r.Checked = i == idx
	}
	return true
}

// assignScalar sets a text-like control. Selects reject values outside their
// option list and end up empty.
func assignScalar(c *form.Control, value form.Value) {
	text := value.Text()
	if c.Type == form.TypeSelect && len(c.Options) > 0 && !slices.Contains(c.Options, text) {
		text = ""
	}
	c.Value = text
}
