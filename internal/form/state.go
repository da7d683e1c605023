package form

import (
	"bytes"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"
)

// ValueKind tags the shape of a persisted value.
type ValueKind int

// Persisted value shapes.
const (
	KindString ValueKind = iota
	KindBool
	KindList
)

// Value is one persisted field: a string, a bool, or an ordered list of
// strings for multi-select checkbox groups.
type Value struct {
	Kind ValueKind
	Str  string
	Bool bool
	List []string
}

// String builds a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List builds a list value. The input is copied.
func List(items ...string) Value {
	return Value{Kind: KindList, List: append([]string{}, items...)}
}

// Truthy reports whether the value counts as set when restoring a single
// checkbox or counting restored fields.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindList:
		return len(v.List) > 0
	default:
		return v.Str != ""
	}
}

// Text renders the value for assignment into a scalar control.
func (v Value) Text() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		if len(v.List) == 0 {
			return ""
		}
		return v.List[0]
	default:
		return v.Str
	}
}

// Equal compares two values by kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		return slices.Equal(v.List, o.List)
	default:
		return v.Str == o.Str
	}
}

// MarshalJSON encodes the value as a bare JSON string, bool, or array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		list := v.List
		if list == nil {
			list = []string{}
		}
		return json.Marshal(list)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON accepts a JSON string, bool, array of strings, number, or
// null (decoded as an empty string).
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode string value: %w", err)
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("decode bool value: %w", err)
		}
		*v = Bool(b)
	case '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode list value: %w", err)
		}
		*v = List(items...)
	case 'n':
		*v = String("")
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("decode value: %w", err)
		}
		*v = String(n.String())
	}
	return nil
}

// State is the flat field-name to value mapping that autosave persists.
type State map[string]Value

// Collect serialises the current form into a State. Checkbox groups become
// lists of checked values, a lone checkbox becomes a bool, a radio group
// becomes its checked value (omitted when nothing is checked), and scalar
// controls keep their text. Submit, button, and file controls are skipped.
func Collect(f *Form) State {
	state := make(State)
	seen := make(map[string]bool)
	for _, c := range f.controls {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		switch c.Type {
		case TypeSubmit, TypeButton, TypeFile:
			continue
		}
		seen[c.Name] = true
		group := f.Named(c.Name)
		switch {
		case c.Type == TypeCheckbox && len(group) > 1:
			checked := make([]string, 0, len(group))
			for _, m := range group {
				if m.Checked {
					checked = append(checked, m.Value)
				}
			}
			state[c.Name] = List(checked...)
		case c.Type == TypeCheckbox:
			state[c.Name] = Bool(c.Checked)
		case c.Type == TypeRadio:
			for _, m := range group {
				if m.Checked {
					state[c.Name] = String(m.Value)
					break
				}
			}
		default:
			state[c.Name] = String(c.Value)
		}
	}
	return state
}
