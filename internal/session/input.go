package session

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/onboard-forms/internal/form"
)

// Field describes one control when a session is opened.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Value    string   `json:"value,omitempty"`
	Checked  bool     `json:"checked,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// OpenRequest creates a session.
type OpenRequest struct {
	FormID string  `json:"form_id"`
	UserID string  `json:"-"`
	Fields []Field `json:"fields"`
}

func (r OpenRequest) build(maxFields int) (*form.Form, error) {
	formID := strings.TrimSpace(r.FormID)
	if formID == "" {
		return nil, fmt.Errorf("%w: form_id is required", ErrInvalidInput)
	}
	if len(r.Fields) == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", ErrInvalidInput)
	}
	if maxFields > 0 && len(r.Fields) > maxFields {
		return nil, fmt.Errorf("%w: %d fields exceeds limit of %d", ErrInvalidInput, len(r.Fields), maxFields)
	}
	f := form.New(formID)
	for i, field := range r.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidInput, i)
		}
		f.Append(&form.Control{
			Name:     name,
			Type:     form.ParseControlType(field.Type),
			Value:    field.Value,
			Checked:  field.Checked,
			ReadOnly: field.ReadOnly,
			Options:  append([]string(nil), field.Options...),
		})
	}
	return f, nil
}

// InputKind is the interaction being replayed.
type InputKind string

// Input kinds.
const (
	KindInput  InputKind = "input"
	KindChange InputKind = "change"
	KindClick  InputKind = "click"
)

// Input is one user interaction. For checkboxes and radios Value selects
// the option within the group; for other controls it is the new value.
type Input struct {
	Name    string    `json:"name"`
	Value   *string   `json:"value,omitempty"`
	Checked *bool     `json:"checked,omitempty"`
	Kind    InputKind `json:"kind"`
}

// Validate checks the shape of the input.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	switch in.Kind {
	case KindInput, KindChange, KindClick:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
}

func (in Input) target(f *form.Form) (*form.Control, error) {
	controls := f.Named(in.Name)
	if len(controls) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, in.Name)
	}
	target := controls[0]
	if target.Type.IsToggle() && in.Value != nil {
		target = nil
		for _, c := range controls {
			if c.Value == *in.Value {
				target = c
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("%w: %s has no option %q", ErrUnknownField, in.Name, *in.Value)
		}
	}
	return target, nil
}

func (in Input) apply(f *form.Form) error {
	c, err := in.target(f)
	if err != nil {
		return err
	}
	if c.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, c.Name)
	}
	if in.Kind == KindClick {
		f.Click(c)
		return nil
	}
	if c.Type.IsToggle() {
		if in.Checked != nil {
			setChecked(f, c, *in.Checked)
		}
	} else if in.Value != nil {
		c.Value = *in.Value
	}
	f.Dispatch(form.Event{Type: form.EventType(in.Kind), Target: c})
	return nil
}

func setChecked(f *form.Form, c *form.Control, checked bool) {
	if c.Type == form.TypeRadio && checked {
		for _, other := range f.Named(c.Name) {
			if other.Type == form.TypeRadio {
				other.Checked = false
			}
		}
	}
	c.Checked = checked
}
