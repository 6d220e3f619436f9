package ingest

import (
	"errors"

	"github.com/caiofh/showweather/internal/weatherapi"
)

// Kind classifies an ingestion failure so callers can map it to an HTTP
// status or a retry decision without inspecting provider internals.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindUnavailable  Kind = "unavailable" // date outside provider window
	KindTransport    Kind = "transport"
	KindSchema       Kind = "schema"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage"
)

// Error wraps an ingestion failure with its classification and the
// operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err is not an
// ingestion error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// classifyProviderErr maps provider adapter failures onto ingestion kinds.
func classifyProviderErr(err error) Kind {
	switch {
	case errors.Is(err, weatherapi.ErrOutOfWindow), errors.Is(err, weatherapi.ErrNoForecastDay):
		return KindUnavailable
	}

	var se *weatherapi.SchemaError
	if errors.As(err, &se) {
		return KindSchema
	}
	return KindTransport
}
