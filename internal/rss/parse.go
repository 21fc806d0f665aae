// Package rss turns podcast RSS feeds into normalized episodes.
package rss

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const defaultTitle = "Sans titre"

// ParseOptions controls episode normalization.
type ParseOptions struct {
	// ProxyPath, when set, rewrites audio URLs to ProxyPath?url=<escaped>.
	ProxyPath string
	// NewGUID generates the fallback guid for items with neither guid nor link.
	// If nil, a random UUID is used.
	NewGUID func() string
}

var sanitizer = bluemonday.UGCPolicy()

// ParseEpisodes parses an RSS body into episodes, one per <item>, in feed order.
func ParseEpisodes(body []byte, opts ParseOptions) ([]model.Episode, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("rss: empty body")
	}
	if opts.NewGUID == nil {
		opts.NewGUID = uuid.NewString
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rss: parse feed: %w", err)
	}

	channelImage := ""
	if feed.Image != nil {
		channelImage = feed.Image.URL
	}

	episodes := make([]model.Episode, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		episodes = append(episodes, normalizeItem(item, channelImage, opts))
	}
	return episodes, nil
}

func normalizeItem(item *gofeed.Item, channelImage string, opts ParseOptions) model.Episode {
	ep := model.Episode{
		Title: strings.TrimSpace(item.Title),
		Link:  strings.TrimSpace(item.Link),
	}
	if ep.Title == "" {
		ep.Title = defaultTitle
	}

	switch {
	case strings.TrimSpace(item.GUID) != "":
		ep.GUID = strings.TrimSpace(item.GUID)
		ep.FeedGUID = true
	case ep.Link != "":
		ep.GUID = ep.Link
	default:
		ep.GUID = opts.NewGUID()
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	ep.Description = strings.TrimSpace(sanitizer.Sanitize(body))

	switch {
	case item.PublishedParsed != nil:
		ep.Date = model.FormatISO(*item.PublishedParsed)
	default:
		if t, ok := FrenchDate(item.Description); ok {
			ep.Date = model.FormatISO(t)
		} else if t, ok := FrenchDate(item.Content); ok {
			ep.Date = model.FormatISO(t)
		}
	}

	ep.AudioURL = Proxify(audioURL(item), opts.ProxyPath)

	if item.Image != nil && item.Image.URL != "" {
		ep.Image = item.Image.URL
	} else {
		ep.Image = channelImage
	}

	return ep
}

// audioURL prefers an audio enclosure, then media:content.
func audioURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" || strings.HasPrefix(enc.Type, "image/") {
			continue
		}
		return strings.TrimSpace(enc.URL)
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, c := range media["content"] {
			u := c.Attrs["url"]
			if u == "" || strings.Contains(c.Attrs["type"], "image") || c.Attrs["medium"] == "image" {
				continue
			}
			return strings.TrimSpace(u)
		}
	}
	return ""
}

// Proxify routes an audio URL through the local proxy, once.
func Proxify(audio, proxyPath string) string {
	if audio == "" || proxyPath == "" || IsProxied(audio, proxyPath) {
		return audio
	}
	return proxyPath + "?url=" + url.QueryEscape(audio)
}

// IsProxied reports whether audio already points at the local proxy.
func IsProxied(audio, proxyPath string) bool {
	return strings.HasPrefix(audio, proxyPath+"?") || audio == proxyPath
}
