// Package identity derives stable event identifiers from location and date.
package identity

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyLocation = errors.New("identity: empty location")
	ErrZeroDate      = errors.New("identity: zero date")
)

// Resolve derives a deterministic event id from a raw location string and
// an event date. All characters outside [A-Za-z0-9] are stripped, the
// remainder is uppercased, and the date is appended as YYYYMMDD, so
// punctuation and case variants of the same location collapse to one id.
func Resolve(location string, date time.Time) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", ErrEmptyLocation
	}
	if date.IsZero() {
		return "", ErrZeroDate
	}

	var b strings.Builder
	for _, r := range location {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyLocation
	}

	return b.String() + "_" + date.Format("20060102"), nil
}
