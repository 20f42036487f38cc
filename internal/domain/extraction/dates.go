package extraction

import (
	"strings"
	"time"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a warehouse date or dateTime string and truncates it to
// the calendar date written in the value. Blank strings are not dates.
func ParseDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, true
		}
	}
	return nil, false
}

// ResolveDate picks the event date from a point-in-time field and a
// period-start field. The point-in-time field wins when it holds a date;
// empty strings count as absent.
func ResolveDate(pointInTime, periodStart *string) (*time.Time, clinical.DateSource) {
	if pointInTime != nil {
		if d, ok := ParseDate(*pointInTime); ok {
			return d, clinical.DateFromPointInTime
		}
	}
	if periodStart != nil {
		if d, ok := ParseDate(*periodStart); ok {
			return d, clinical.DateFromPeriodStart
		}
	}
	return nil, clinical.DateAbsent
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonBlank(s *string) *string {
	if v := deref(s); v != "" {
		return &v
	}
	return nil
}
