package models

import "time"

// TimeLayout is the wire format for every timestamp crossing the outbound
// contract: UTC, millisecond precision, literal Z.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the wire format, converting to UTC first.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatTimePtr is FormatTime for nullable timestamps.
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

// ParseTime parses a wire timestamp. RFC3339 parsing also accepts offsets
// other than Z; the result is normalized to UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseTimePtr parses a nullable wire timestamp.
func ParseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
