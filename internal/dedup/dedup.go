// Package dedup collapses repeated feed entries by a composite key.
package dedup

import (
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

// Collapse keeps one item per key. A later item with the same key replaces
// the earlier one (last-seen wins) but takes its position, so output order
// is the order in which keys first appeared.
func Collapse[T any](items []T, key func(T) string) []T {
	if len(items) == 0 {
		return []T{}
	}

	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}

// EventKey is the UID, or title and start date when the feed has no UID.
func EventKey(e model.Event) string {
	if e.UID != "" {
		return "uid:" + e.UID
	}
	return "ts:" + e.Title + "|" + model.FormatISO(e.StartDate)
}

// EpisodeKey is the feed guid, or title and audio URL when the guid was
// derived or random.
func EpisodeKey(e model.Episode) string {
	if e.FeedGUID && e.GUID != "" {
		return "guid:" + e.GUID
	}
	return "tu:" + e.Title + "|" + e.AudioURL
}

// Events collapses events by EventKey.
func Events(events []model.Event) []model.Event {
	return Collapse(events, EventKey)
}

// Episodes collapses episodes by EpisodeKey.
func Episodes(episodes []model.Episode) []model.Episode {
	return Collapse(episodes, EpisodeKey)
}
