// Package window keeps the events that fall in the upcoming display window.
package window

import (
	"sort"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

// DefaultDays is the length of the served window.
const DefaultDays = 31

// Bounds returns the half-open window [now, now+days).
func Bounds(now time.Time, days int) (time.Time, time.Time) {
	if days <= 0 {
		days = DefaultDays
	}
	return now, now.Add(time.Duration(days) * 24 * time.Hour)
}

// Contains reports whether t lies in [start, end).
func Contains(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// Filter keeps events with now ≤ startDate < now+days and sorts them by
// start date. Equal dates keep their input order.
func Filter(events []model.Event, now time.Time, days int) []model.Event {
	start, end := Bounds(now, days)

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if Contains(ev.StartDate, start, end) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out
}
