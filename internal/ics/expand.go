package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the occurrences that are produced (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means 500.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the flattened events and the UIDs whose rule hit the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// Expand replaces every event carrying an RRULE with its concrete occurrences
// inside the range, honoring EXDATE. Events without a rule pass through
// untouched, whatever their date; range filtering is the window's job.
// Input order is preserved, occurrences of one event stay contiguous.
func Expand(events []model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.RRule == "" {
			out = append(out, ev)
			continue
		}

		occ, hitCap, err := expandRecurring(ev, cfg)
		if err != nil {
			// Keep the base instance rather than dropping the event.
			appLog.Warn("expand: invalid RRULE, keeping base event", "uid", ev.UID, "rrule", ev.RRule, "err", err)
			ev.RRule = ""
			ev.ExDates = nil
			out = append(out, ev)
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Warn("expand: truncated occurrences", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		out = append(out, occ...)
	}

	result.Events = out
	return result, nil
}

func expandRecurring(ev model.Event, cfg ExpandConfig) ([]model.Event, bool, error) {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, false, err
	}
	r.DTStart(ev.StartDate)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.StartDate.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.StartDate.Location())
	rangeEnd := cfg.RangeEnd.In(ev.StartDate.Location())
	times := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(times))
	for _, t := range times {
		occ := ev
		occ.StartDate = t
		occ.RRule = ""
		occ.ExDates = nil
		out = append(out, occ)
	}
	return out, hitCap, nil
}
