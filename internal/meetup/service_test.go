package meetup_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/enrich"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/meetup"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/metrics"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
	. "github.com/smartystreets/goconvey/convey"
)

func calendar(vevents ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		strings.Join(vevents, "") + "END:VCALENDAR\r\n"
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

const detailPage = `<html><head>
<script type="application/ld+json">{"@type":"Event","location":{"@type":"Place",
"address":{"streetAddress":"12 Rue X","addressLocality":"Toulouse"}}}</script>
</head><body></body></html>`

func newUpstream() *httptest.Server {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)

	mux.HandleFunc("/a.ics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(calendar(
			vevent("UID:u1", "SUMMARY:Apéro", "DTSTART:20250510T180000Z", "LOCATION:Bar\\, Toulouse"),
			vevent("UID:u2", "SUMMARY:Pique-nique", "DTSTART:20250512T100000Z", "URL:"+srv.URL+"/event/2"),
			vevent("UID:u3", "SUMMARY:Passé", "DTSTART:20250401T100000Z", "LOCATION:Ailleurs"),
		)))
	})
	mux.HandleFunc("/b.ics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(calendar(
			vevent("UID:u1", "SUMMARY:Apéro (salle changée)", "DTSTART:20250510T180000Z", "LOCATION:Autre bar\\, Toulouse"),
			vevent("UID:u4", "SUMMARY:Conversation", "DTSTART:20250502T170000Z", "RRULE:FREQ=WEEKLY;COUNT=3", "LOCATION:Médiathèque"),
		)))
	})
	mux.HandleFunc("/event/2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(detailPage))
	})
	mux.HandleFunc("/down.ics", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	return srv
}

func TestEvents(t *testing.T) {
	srv := newUpstream()
	defer srv.Close()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	fetcher := feed.NewFetcher(feed.Options{})
	sources := []config.MeetupSource{
		{ID: "expats", URLs: []string{srv.URL + "/a.ics", srv.URL + "/b.ics"}},
		{ID: "broken", URLs: []string{srv.URL + "/a.ics", srv.URL + "/down.ics"}},
	}
	svc := meetup.NewService(fetcher, sources, meetup.Options{
		Location: time.UTC,
		Enricher: enrich.New(fetcher, enrich.Options{Concurrency: 2}),
		Metrics:  metrics.NewManager(),
		Now:      func() time.Time { return now },
	})

	Convey("Given two feeds with an overlapping UID and a weekly series", t, func() {
		events, err := svc.Events(context.Background(), "expats")
		So(err, ShouldBeNil)

		Convey("Then the output is deduped, expanded, windowed and sorted", func() {
			titles := make([]string, len(events))
			for i, ev := range events {
				titles[i] = ev.Title
			}
			So(titles, ShouldResemble, []string{
				"Conversation",
				"Conversation",
				"Apéro (salle changée)",
				"Pique-nique",
				"Conversation",
			})
			for i := 1; i < len(events); i++ {
				So(events[i].StartDate.Before(events[i-1].StartDate), ShouldBeFalse)
			}
		})

		Convey("Then the event without a venue is enriched from its page", func() {
			var picnic model.Event
			for _, ev := range events {
				if ev.Title == "Pique-nique" {
					picnic = ev
				}
			}
			So(picnic.FullAddress, ShouldEqual, "12 Rue X, Toulouse")
		})

		Convey("Then the same feeds yield the same result", func() {
			again, err := svc.Events(context.Background(), "expats")
			So(err, ShouldBeNil)
			So(again, ShouldResemble, events)
		})
	})

	Convey("Given a source with one failing feed", t, func() {
		_, err := svc.Events(context.Background(), "broken")

		Convey("Then the whole request fails", func() {
			So(errors.Is(err, feed.ErrStatus), ShouldBeTrue)
		})
	})

	Convey("Given an unknown source", t, func() {
		_, err := svc.Events(context.Background(), "nope")

		Convey("Then ErrUnknownSource is returned", func() {
			So(errors.Is(err, meetup.ErrUnknownSource), ShouldBeTrue)
		})
	})
}
