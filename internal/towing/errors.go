// Package towing turns vehicle queries and photos into validated towing guidance using a
// generative backend.
package towing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is returned before any backend call when the caller supplies an unusable query.
	ErrInvalidQuery = errors.New("towing: invalid query")
	// ErrBackendUnavailable wraps transport or service failures from the generative backend.
	ErrBackendUnavailable = errors.New("towing: backend unavailable")
	// ErrMalformedResponse indicates no valid JSON object matching the expected shape could be extracted.
	ErrMalformedResponse = errors.New("towing: malformed response")
	// ErrUnrecognizedVehicle indicates the response parsed but did not identify a vehicle.
	ErrUnrecognizedVehicle = errors.New("towing: unrecognized vehicle")
	// ErrExtractionNotFound indicates an image operation finished without a usable result.
	ErrExtractionNotFound = errors.New("towing: extraction not found")
)

const maxRawExcerpt = 512

// MalformedResponseError carries the raw backend text that failed to parse.
type MalformedResponseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	msg := "towing: malformed response"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying decode error.
func (e *MalformedResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}

// Excerpt returns a bounded prefix of the raw text suitable for logs.
func (e *MalformedResponseError) Excerpt() string {
	if len(e.Raw) <= maxRawExcerpt {
		return e.Raw
	}
	return e.Raw[:maxRawExcerpt] + "..."
}

func malformed(raw, reason string, err error) error {
	return &MalformedResponseError{Reason: reason, Raw: raw, Err: err}
}

func backendUnavailable(op Operation, err error) error {
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
