package ics

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/microcosm-cc/bluemonday"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

// ParseOptions controls how floating times and missing dates are resolved.
type ParseOptions struct {
	// Location applies to DTSTART values without offset or known TZID.
	// If nil, time.Local is used.
	Location *time.Location
	// Now is the fallback start for events whose DTSTART is absent or
	// unparsable. If zero, time.Now() is used.
	Now time.Time
}

var stripTags = bluemonday.StrictPolicy()

// ParseEvents parses a single iCal payload into normalized events, one per
// VEVENT. A malformed payload fails as a whole.
func ParseEvents(body []byte, opts ParseOptions) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	vevents := cal.Events()
	events := make([]model.Event, 0, len(vevents))
	for _, ve := range vevents {
		events = append(events, normalizeVEvent(ve, opts))
	}
	return events, nil
}

func normalizeVEvent(ve *ical.VEvent, opts ParseOptions) model.Event {
	ev := model.Event{
		UID:         propValue(ve, ical.ComponentPropertyUniqueId),
		Title:       cleanText(propValue(ve, ical.ComponentPropertySummary)),
		Link:        propValue(ve, ical.ComponentPropertyUrl),
		Description: cleanText(propValue(ve, ical.ComponentPropertyDescription)),
		CoverImage:  propValue(ve, "IMAGE"),
		RRule:       propValue(ve, ical.ComponentPropertyRrule),
	}

	if ev.Title == "" {
		ev.Title = model.DefaultTitle
	}
	if ev.Description == "" {
		ev.Description = model.DefaultDescription
	}

	loc := cleanText(propValue(ve, ical.ComponentPropertyLocation))
	ev.Location = shortLocation(loc)
	ev.FullAddress = loc
	if ev.FullAddress == "" {
		ev.FullAddress = model.DefaultAddress
	}

	ev.StartDate = startValue(ve).Resolve(opts.Location, opts.Now)
	ev.ExDates = exDates(ve, opts.Location)

	return ev
}

// startValue classifies DTSTART into one of the DateValue branches.
func startValue(ve *ical.VEvent) DateValue {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return DateValue{}
	}
	if strings.Contains(prop.Value, "-") {
		return ISODate(prop.Value)
	}
	tzid := paramValue(prop, "TZID")
	// The library resolves floating values in time.Local; those go through
	// the raw branch so the configured location applies instead.
	if tzid != "" || strings.HasSuffix(prop.Value, "Z") {
		if t, err := ve.GetStartAt(); err == nil && !t.IsZero() {
			return NativeDate(t)
		}
	}
	return ICalDate(prop.Value, tzid)
}

func exDates(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := paramValue(p, "TZID")
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := ICalDate(part, tzid).Parse(loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	p := ve.GetProperty(name)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// cleanText strips any markup some calendars embed in text properties.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(stripTags.Sanitize(s)))
}

// shortLocation keeps the venue name, the part before the first comma.
func shortLocation(loc string) string {
	if i := strings.Index(loc, ","); i > 0 {
		return strings.TrimSpace(loc[:i])
	}
	return loc
}
