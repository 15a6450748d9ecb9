package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// defaultListLimit caps list queries that do not set a limit.
const defaultListLimit = 100

func newID() string {
	return uuid.New().String()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return nowUTC()
	}
	return t.UTC()
}

func limitOr(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", what)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any, what string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return eris.Wrapf(err, "store: unmarshal %s", what)
	}
	return nil
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// sqliteTimeFormat is fixed-width so that stored values compare correctly
// as text.
const sqliteTimeFormat = "2006-01-02 15:04:05.000000000"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

// scanTime reads a timestamp column regardless of whether the driver hands
// back a time.Time or the stored text.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (s *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.Time, s.Valid = time.Time{}, false
		return nil
	case time.Time:
		s.Time, s.Valid = v.UTC(), true
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return eris.Errorf("store: cannot scan %T into time", src)
	}
}

func (s *scanTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeFormat, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			s.Time, s.Valid = t.UTC(), true
			return nil
		}
	}
	return eris.Errorf("store: unparseable time %q", v)
}

func (s scanTime) ptr() *time.Time {
	if !s.Valid {
		return nil
	}
	t := s.Time
	return &t
}
