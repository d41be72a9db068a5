package model

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format stored on measurement nodes and
// returned by the query service.
const TimeLayout = "2006-01-02T15:04:05"

// DateLayout is the day-resolution format used for date bounds and pivots.
const DateLayout = "2006-01-02"

const rangeSep = " to "

var isoLayouts = []string{
	TimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	DateLayout,
}

// FormatWindow renders an acquisition window as "<start> to <end>".
func FormatWindow(start, end time.Time) string {
	return start.Format(TimeLayout) + rangeSep + end.Format(TimeLayout)
}

// FormatYear renders an annual timestamp.
func FormatYear(year int) string { return strconv.Itoa(year) }

// ParseChainTime parses a stored timestamp using the rule for the given
// type: the window start for atmospheric types, a bare year for LandCover.
// Records that fail to parse are excluded from temporal chains.
func ParseChainTime(t MeasurementType, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t.Annual() {
		return parseYear(raw)
	}
	start, _, _ := strings.Cut(raw, rangeSep)
	ts, err := time.Parse(TimeLayout, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// NormalizeTimestamp converts any stored timestamp shape (ISO datetime,
// bare year, or "<start> to <end>" range) into TimeLayout.
func NormalizeTimestamp(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if len(raw) == 4 {
		if ts, ok := parseYear(raw); ok {
			return ts.Format(TimeLayout), true
		}
	}
	if ts, ok := parseISO(raw); ok {
		return ts.Format(TimeLayout), true
	}
	if start, _, found := strings.Cut(raw, rangeSep); found {
		if ts, ok := parseISO(strings.TrimSpace(start)); ok {
			return ts.Format(TimeLayout), true
		}
	}
	return "", false
}

// DatePart returns the day portion of a stored timestamp.
func DatePart(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(DateLayout) {
		return raw[:len(DateLayout)]
	}
	return raw
}

// ParseBound parses a query date bound, either a date or a datetime.
func ParseBound(s string) (time.Time, bool) {
	return parseISO(strings.TrimSpace(s))
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseYear(s string) (time.Time, bool) {
	year, err := strconv.Atoi(s)
	if err != nil || year < 1 || year > 9999 {
		return time.Time{}, false
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
}
