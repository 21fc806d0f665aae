package rss

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const podcastFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
  xmlns:content="http://purl.org/rss/1.0/modules/content/"
  xmlns:media="http://search.yahoo.com/mrss/"
  xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Rencontres Mollat</title>
    <link>https://www.mollat.com</link>
    <image><url>https://cdn.example.com/channel.jpg</url><title>Mollat</title><link>https://www.mollat.com</link></image>
    <item>
      <guid>ep-001</guid>
      <title>Rencontre avec une autrice</title>
      <link>https://www.mollat.com/ep-001</link>
      <description>Courte description</description>
      <content:encoded><![CDATA[<p>Texte <strong>complet</strong><script>alert(1)</script></p>]]></content:encoded>
      <pubDate>Tue, 06 May 2025 08:30:00 +0200</pubDate>
      <enclosure url="https://audio.example.com/ep-001.mp3" length="1234" type="audio/mpeg"/>
      <itunes:image href="https://cdn.example.com/ep-001.jpg"/>
    </item>
    <item>
      <title>Conférence du 15 mai 2025</title>
      <description>Enregistrée le 15 mai 2025 à la librairie.</description>
      <pubDate></pubDate>
      <media:content url="https://audio.example.com/ep-002.mp3" type="audio/mpeg"/>
    </item>
    <item>
      <title>Sans date</title>
      <link>https://www.mollat.com/ep-003</link>
      <description>Aucune date ici</description>
    </item>
  </channel>
</rss>`

func parseSample(t *testing.T) []model.Episode {
	t.Helper()
	eps, err := ParseEpisodes([]byte(podcastFeed), ParseOptions{
		ProxyPath: "/api/proxy-audio",
		NewGUID:   func() string { return "random-guid" },
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return eps
}

func TestParseEpisodes_FullItem(t *testing.T) {
	eps := parseSample(t)
	if len(eps) != 3 {
		t.Fatalf("episodes: got %d, want 3", len(eps))
	}

	e := eps[0]
	if e.GUID != "ep-001" || !e.FeedGUID {
		t.Errorf("guid: got %q (feed=%v)", e.GUID, e.FeedGUID)
	}
	if e.Date != "2025-05-06T06:30:00.000Z" {
		t.Errorf("date: got %q", e.Date)
	}
	if strings.Contains(e.Description, "script") || !strings.Contains(e.Description, "<strong>complet</strong>") {
		t.Errorf("description should be content:encoded, sanitized: got %q", e.Description)
	}
	want := "/api/proxy-audio?url=" + url.QueryEscape("https://audio.example.com/ep-001.mp3")
	if e.AudioURL != want {
		t.Errorf("audio: got %q, want %q", e.AudioURL, want)
	}
	if e.Image != "https://cdn.example.com/ep-001.jpg" {
		t.Errorf("image: got %q", e.Image)
	}
}

func TestParseEpisodes_FrenchDateFallback(t *testing.T) {
	e := parseSample(t)[1]
	if e.Date != "2025-05-15T00:00:00.000Z" {
		t.Errorf("date: got %q, want 2025-05-15T00:00:00.000Z", e.Date)
	}
	if e.GUID != "random-guid" || e.FeedGUID {
		t.Errorf("guid fallback: got %q (feed=%v)", e.GUID, e.FeedGUID)
	}
	if !strings.Contains(e.AudioURL, url.QueryEscape("https://audio.example.com/ep-002.mp3")) {
		t.Errorf("media:content audio: got %q", e.AudioURL)
	}
	if e.Image != "https://cdn.example.com/channel.jpg" {
		t.Errorf("channel image fallback: got %q", e.Image)
	}
}

func TestParseEpisodes_NoDate(t *testing.T) {
	e := parseSample(t)[2]
	if e.Date != "" {
		t.Errorf("date: got %q, want empty", e.Date)
	}
	if e.GUID != "https://www.mollat.com/ep-003" || e.FeedGUID {
		t.Errorf("guid from link: got %q (feed=%v)", e.GUID, e.FeedGUID)
	}
	if e.AudioURL != "" {
		t.Errorf("audio: got %q, want empty", e.AudioURL)
	}
}

func TestParseEpisodes_Malformed(t *testing.T) {
	if _, err := ParseEpisodes([]byte(""), ParseOptions{}); err == nil {
		t.Error("empty body should fail")
	}
	if _, err := ParseEpisodes([]byte("this is not xml"), ParseOptions{}); err == nil {
		t.Error("non-feed body should fail")
	}
}

func TestProxify(t *testing.T) {
	const proxy = "/api/proxy-audio"
	once := Proxify("https://a.example.com/x.mp3?k=v", proxy)
	if once != proxy+"?url=https%3A%2F%2Fa.example.com%2Fx.mp3%3Fk%3Dv" {
		t.Errorf("proxify: got %q", once)
	}
	if twice := Proxify(once, proxy); twice != once {
		t.Errorf("proxify must be idempotent: got %q", twice)
	}
	if got := Proxify("", proxy); got != "" {
		t.Errorf("empty audio: got %q", got)
	}
}

func TestFrenchDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"Enregistré le 15 mai 2025", time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), true},
		{"le 1er août 2024 à 18h", time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), true},
		{"3 Décembre 2023", time.Date(2023, 12, 3, 0, 0, 0, 0, time.UTC), true},
		{"12 fevrier 2022", time.Date(2022, 2, 12, 0, 0, 0, 0, time.UTC), true},
		{"le 7 ao&ucirc;t 2021", time.Date(2021, 8, 7, 0, 0, 0, 0, time.UTC), true},
		{"31 février 2025", time.Time{}, false},
		{"May 15, 2025", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := FrenchDate(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("FrenchDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
