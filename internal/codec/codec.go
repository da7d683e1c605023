// Package codec serialises persisted form state for the key-value store.
package codec

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/onboard-forms/internal/form"
)

// ErrEmptyPayload is returned when decoding zero bytes.
var ErrEmptyPayload = errors.New("empty saved state payload")

// Encode marshals state into its JSON form.
func Encode(state form.State) ([]byte, error) {
	if state == nil {
		state = form.State{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode form state: %w", err)
	}
	return data, nil
}

// Decode parses a payload written by Encode.
func Decode(data []byte) (form.State, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	var state form.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode form state: %w", err)
	}
	if state == nil {
		state = form.State{}
	}
	return state, nil
}
