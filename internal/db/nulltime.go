package db

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timeFormats are the textual timestamp layouts found in the database:
// the driver's sqlite format, CURRENT_TIMESTAMP, and RFC 3339.
var timeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a stored timestamp in any of the layouts above.
func ParseTime(s string) (time.Time, error) {
	var firstErr error
	for _, format := range timeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse time string %q: %w", s, firstErr)
}

// NullTime scans DATETIME columns whether the driver hands back a time.Time
// or the raw text, and writes times in UTC.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// NewNullTime returns a valid NullTime for t, or an invalid one for the zero time.
func NewNullTime(t time.Time) NullTime {
	return NullTime{Time: t, Valid: !t.IsZero()}
}

// NullTimeFrom converts an optional time.
func NullTimeFrom(t *time.Time) NullTime {
	if t == nil {
		return NullTime{}
	}
	return NewNullTime(*t)
}

// Ptr returns nil for NULL.
func (nt NullTime) Ptr() *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Scan implements sql.Scanner.
func (nt *NullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	case time.Time:
		nt.Time, nt.Valid = v.UTC(), true
		return nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return err
		}
		nt.Time, nt.Valid = t.UTC(), true
		return nil
	case []byte:
		return nt.Scan(string(v))
	default:
		return fmt.Errorf("unsupported Scan type for NullTime: %T", value)
	}
}

// Value implements driver.Valuer.
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time.UTC(), nil
}
