package event

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the canonical wire and storage format for event timestamps:
// UTC with fixed-width millisecond precision. Fixed width keeps the string
// form lexicographically ordered, which the stores rely on for cursor
// comparisons.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Time is an event timestamp. It marshals to the canonical fixed-width
// ISO-8601 form and truncates to millisecond precision.
type Time struct {
	time.Time
}

// Now returns the current instant as an event timestamp.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// At converts a time.Time into an event timestamp.
func At(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

// ParseTime parses a canonical timestamp string. The empty string parses to
// the zero Time, which is how an absent cursor is represented.
func ParseTime(s string) (Time, error) {
	if s == "" {
		return Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Time{}, fmt.Errorf("event: invalid timestamp %q: %w", s, err)
	}
	return At(t), nil
}

// String returns the canonical form, or the empty string for the zero Time.
func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// After reports whether t is strictly after other. The zero Time is before
// every non-zero Time.
func (t Time) After(other time.Time) bool {
	return t.Time.After(other)
}

// MarshalJSON encodes the canonical string form.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the canonical form and any RFC 3339 variant.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = Time{}
		return nil
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
