package enrich

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// eventTypes are the schema.org types whose location is trusted.
var eventTypes = map[string]bool{
	"Event":     true,
	"FoodEvent": true,
}

// extractPage pulls the Open Graph image and the JSON-LD event address out
// of a detail page.
func extractPage(body []byte) (Enrichment, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Enrichment{}, err
	}

	var out Enrichment
	var scripts []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				if out.CoverImage == "" && isOGImage(n) {
					out.CoverImage = strings.TrimSpace(getAttr(n, "content"))
				}
			case atom.Script:
				if isJSONLD(n) {
					scripts = append(scripts, nodeText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, s := range scripts {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
			// One broken block must not hide a later valid one.
			continue
		}
		if ev := findEvent(v); ev != nil {
			out.FullAddress = eventAddress(ev)
			if out.FullAddress != "" {
				break
			}
		}
	}

	return out, nil
}

func isOGImage(n *html.Node) bool {
	p := getAttr(n, "property")
	if p == "" {
		p = getAttr(n, "name")
	}
	return strings.EqualFold(p, "og:image") || strings.EqualFold(p, "og:image:url")
}

func isJSONLD(n *html.Node) bool {
	t := strings.ToLower(getAttr(n, "type"))
	return strings.HasPrefix(strings.TrimSpace(t), "application/ld+json")
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// findEvent searches a JSON-LD value (object, array or @graph) for the first
// node typed Event or FoodEvent.
func findEvent(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if ev := findEvent(item); ev != nil {
				return ev
			}
		}
	case map[string]any:
		if hasEventType(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findEvent(graph)
		}
	}
	return nil
}

func hasEventType(v any) bool {
	switch t := v.(type) {
	case string:
		return eventTypes[t]
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && eventTypes[s] {
				return true
			}
		}
	}
	return false
}

// eventAddress builds "streetAddress, addressLocality" from location.address.
func eventAddress(ev map[string]any) string {
	for _, loc := range asList(ev["location"]) {
		place, ok := loc.(map[string]any)
		if !ok {
			continue
		}
		switch addr := place["address"].(type) {
		case string:
			if s := strings.TrimSpace(addr); s != "" {
				return s
			}
		case map[string]any:
			if s := joinAddress(addr); s != "" {
				return s
			}
		}
	}
	return ""
}

func joinAddress(addr map[string]any) string {
	var parts []string
	for _, key := range []string{"streetAddress", "addressLocality"} {
		if s, ok := addr[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, ", ")
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}
