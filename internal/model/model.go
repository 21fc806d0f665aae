package model

import (
	"encoding/json"
	"time"
)

const (
	// DefaultAddress is shown when neither the feed nor the detail page gives a venue.
	DefaultAddress = "Lieu non spécifié"
	// DefaultDescription replaces an empty event description.
	DefaultDescription = "Aucune description disponible."
	// DefaultTitle replaces an empty SUMMARY.
	DefaultTitle = "Événement sans titre"
)

// isoMillis matches JavaScript's Date.prototype.toISOString, which the pages
// already parse.
const isoMillis = "2006-01-02T15:04:05.000Z"

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// Event is a normalized calendar event served by the meetup endpoints.
type Event struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	StartDate   time.Time `json:"-"`
	Location    string    `json:"location"`
	FullAddress string    `json:"fullAddress"`
	Description string    `json:"description"`
	CoverImage  string    `json:"coverImage,omitempty"`

	// UID is the iCalendar UID, empty when the feed omits it.
	UID string `json:"-"`
	// RRule and ExDates are kept raw until recurrence expansion.
	RRule   string      `json:"-"`
	ExDates []time.Time `json:"-"`
}

// HasAddress reports whether the event already carries a usable venue.
func (e Event) HasAddress() bool {
	return e.FullAddress != "" && e.FullAddress != DefaultAddress
}

// MarshalJSON writes startDate in the ISO form the pages expect.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		StartDate string `json:"startDate"`
	}{
		plain:     plain(e),
		StartDate: FormatISO(e.StartDate),
	})
}

// Episode is a normalized podcast episode as persisted in the cache.
type Episode struct {
	GUID        string `json:"guid"`
	Title       string `json:"titre"`
	Date        string `json:"date"`
	Description string `json:"description"`
	AudioURL    string `json:"audioUrl"`
	Image       string `json:"image,omitempty"`
	Link        string `json:"link,omitempty"`

	// FeedGUID is true when GUID came from the feed itself rather than a fallback.
	FeedGUID bool `json:"-"`
}
