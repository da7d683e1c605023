// Package form models the live controls of one onboarding form. A Form holds
// no snapshot of its values: callers mutate controls in place and every query
// observes the current state, the same way scripts observe a DOM form.
package form

import (
	"strings"
)

// ControlType mirrors the type attribute of an input, select, or textarea.
type ControlType string

// Control types recognised by the progress and persistence layers.
const (
	TypeText     ControlType = "text"
	TypeEmail    ControlType = "email"
	TypeTel      ControlType = "tel"
	TypeDate     ControlType = "date"
	TypeNumber   ControlType = "number"
	TypeFile     ControlType = "file"
	TypeTextarea ControlType = "textarea"
	TypeSelect   ControlType = "select"
	TypeCheckbox ControlType = "checkbox"
	TypeRadio    ControlType = "radio"
	TypeHidden   ControlType = "hidden"
	TypeSubmit   ControlType = "submit"
	TypeButton   ControlType = "button"
)

// ParseControlType normalises a type attribute. Unknown values behave like
// text inputs, which is what browsers do.
func ParseControlType(raw string) ControlType {
	t := ControlType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TypeText, TypeEmail, TypeTel, TypeDate, TypeNumber, TypeFile, TypeTextarea,
		TypeSelect, TypeCheckbox, TypeRadio, TypeHidden, TypeSubmit, TypeButton:
		return t
	default:
		return TypeText
	}
}

// IsToggle reports whether the type participates in a checked group.
func (t ControlType) IsToggle() bool {
	return t == TypeCheckbox || t == TypeRadio
}

// Control is one form element. Value carries the text of scalar controls and
// the submitted value of a checkbox or radio option.
type Control struct {
	Name     string
	Type     ControlType
	Value    string
	Checked  bool
	ReadOnly bool
	// Options lists the allowed values of a select control, if known.
	Options []string
}

// Form is an ordered, live list of controls plus its event listeners.
type Form struct {
	id        string
	controls  []*Control
	listeners map[EventType][]*listener
	nextID    int
}

// New creates a Form holding the provided controls in document order.
func New(id string, controls ...*Control) *Form {
	f := &Form{
		id:        id,
		listeners: make(map[EventType][]*listener),
	}
	for _, c := range controls {
		f.Append(c)
	}
	return f
}

// ID returns the form identifier used to scope persisted state.
func (f *Form) ID() string {
	return f.id
}

// Append adds a control at the end of the form.
func (f *Form) Append(c *Control) {
	if c == nil {
		return
	}
	if c.Type == "" {
		c.Type = TypeText
	}
	f.controls = append(f.controls, c)
}

// Controls returns the live control pointers in document order. The slice is
// a copy; the controls are not.
func (f *Form) Controls() []*Control {
	out := make([]*Control, len(f.controls))
	copy(out, f.controls)
	return out
}

// Named returns every control carrying name, in document order.
func (f *Form) Named(name string) []*Control {
	var out []*Control
	for _, c := range f.controls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Element resolves name the way form.elements[name] does: a single control,
// or a group when several controls share the name. ok is false when no
// control matches.
func (f *Form) Element(name string) (Element, bool) {
	group := f.Named(name)
	if len(group) == 0 {
		return Element{}, false
	}
	return Element{Name: name, Controls: group}, true
}

// Element is the result of a by-name lookup.
type Element struct {
	Name     string
	Controls []*Control
}

// IsGroup reports whether more than one control shares the name.
func (e Element) IsGroup() bool {
	return len(e.Controls) > 1
}

// First returns the first control of the element.
func (e Element) First() *Control {
	if len(e.Controls) == 0 {
		return nil
	}
	return e.Controls[0]
}
