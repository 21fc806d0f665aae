package rss

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"decembre":  time.December,
}

// Matches "15 mai 2025", "1er août 2024", "3 Décembre 2023".
var frenchDateRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:er)?\s+(janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|septembre|octobre|novembre|d[ée]cembre)\s+(\d{4})\b`)

var accentFolder = strings.NewReplacer("é", "e", "É", "e", "û", "u", "Û", "u")

// FrenchDate finds the first "<day> <month-name> <year>" in text and returns
// midnight UTC of that day. ok is false when nothing valid matches.
func FrenchDate(text string) (time.Time, bool) {
	m := frenchDateRe.FindStringSubmatch(html.UnescapeString(text))
	if m == nil {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	month, ok := frenchMonths[strings.ToLower(accentFolder.Replace(m[2]))]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}, false
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31 février into March; treat that as no match.
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}
