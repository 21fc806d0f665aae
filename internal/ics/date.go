package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateKind tags which shape a DTSTART value arrived in.
type DateKind int

const (
	// DateMissing means the VEVENT had no DTSTART at all.
	DateMissing DateKind = iota
	// DateNative is a time already resolved by the iCal library (TZID aware).
	DateNative
	// DateISO is ISO-8601 text, as written by some non-conformant exporters.
	DateISO
	// DateICal is a raw iCal basic value with its optional TZID parameter.
	DateICal
)

func (k DateKind) String() string {
	switch k {
	case DateNative:
		return "native"
	case DateISO:
		return "iso"
	case DateICal:
		return "ical"
	default:
		return "missing"
	}
}

// DateValue is a start date before normalization. Exactly one branch of
// Parse applies per Kind.
type DateValue struct {
	Kind DateKind
	Time time.Time // DateNative
	Text string    // DateISO, DateICal
	TZID string    // DateICal
}

func NativeDate(t time.Time) DateValue { return DateValue{Kind: DateNative, Time: t} }

func ISODate(s string) DateValue { return DateValue{Kind: DateISO, Text: strings.TrimSpace(s)} }

func ICalDate(val, tzid string) DateValue {
	return DateValue{Kind: DateICal, Text: strings.TrimSpace(val), TZID: tzid}
}

var errNoDate = errors.New("no start date")

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse resolves the value into a time. loc is used for floating values
// that carry neither an offset nor a known TZID.
func (d DateValue) Parse(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	switch d.Kind {
	case DateNative:
		if d.Time.IsZero() {
			return time.Time{}, errNoDate
		}
		return d.Time, nil

	case DateISO:
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, d.Text, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized ISO date %q", d.Text)

	case DateICal:
		if d.TZID != "" {
			if tz, err := time.LoadLocation(d.TZID); err == nil {
				loc = tz
			}
		}
		return parseICalTime(d.Text, loc)

	default:
		return time.Time{}, errNoDate
	}
}

// Resolve is Parse with the "now" fallback: the result is always a usable
// timestamp, possibly wrong but never zero.
func (d DateValue) Resolve(loc *time.Location, now time.Time) time.Time {
	t, err := d.Parse(loc)
	if err != nil || t.IsZero() {
		return now
	}
	return t
}

// parseICalTime parses the basic iCal DATE / DATE-TIME forms:
// 20250101T090000Z, 20250101T090000 and 20250101.
func parseICalTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errNoDate
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
