// Package feed turns external post feeds (JSON Feed, RSS, the AWS Builder
// Center export) into the markdown shown as a topic's first message.
package feed

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
)

type Item struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

type Format string

const (
	FormatAuto       Format = ""
	FormatJSON       Format = "json"
	FormatRSS        Format = "rss"
	FormatAWSBuilder Format = "awsbuilder"
)

// awsBuilderBase prefixes the contentId of AWS Builder Center articles.
const awsBuilderBase = "https://community.aws"

// Parse decodes data in the given format. FormatAuto sniffs XML versus JSON,
// and tells the AWS Builder export apart by its feedContents key.
func Parse(data []byte, format Format) ([]Item, error) {
	if format == FormatAuto {
		format = detect(data)
	}
	switch format {
	case FormatJSON:
		return parseJSONFeed(data)
	case FormatRSS:
		return parseRSS(data)
	case FormatAWSBuilder:
		return parseAWSBuilder(data)
	default:
		return nil, errors.Errorf("unknown feed format %q", format)
	}
}

func detect(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatRSS
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err == nil {
		if _, ok := keys["feedContents"]; ok {
			return FormatAWSBuilder
		}
	}
	return FormatJSON
}

type jsonFeed struct {
	Items *[]struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		ExternalURL   string `json:"external_url"`
		Summary       string `json:"summary"`
		ContentText   string `json:"content_text"`
		ContentHTML   string `json:"content_html"`
		DatePublished string `json:"date_published"`
		DateModified  string `json:"date_modified"`
	} `json:"items"`
}

func parseJSONFeed(data []byte) ([]Item, error) {
	var f jsonFeed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse json feed")
	}
	if f.Items == nil {
		return nil, errors.New("json feed has no items array")
	}
	out := make([]Item, 0, len(*f.Items))
	for _, it := range *f.Items {
		link := firstNonEmpty(it.URL, it.ExternalURL)
		if link == "" {
			link = "#"
		}
		out = append(out, Item{
			Title:     Clean(it.Title),
			Link:      link,
			Summary:   Clean(firstNonEmpty(it.Summary, it.ContentText, it.ContentHTML)),
			Published: parseTime(firstNonEmpty(it.DatePublished, it.DateModified)),
		})
	}
	return out, nil
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// parseRSS keeps items that have both a title and a link.
func parseRSS(data []byte) ([]Item, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}
	var out []Item
	for _, it := range doc.Channel.Items {
		title, link := Clean(it.Title), strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		out = append(out, Item{
			Title:     title,
			Link:      link,
			Summary:   Clean(it.Description),
			Published: parseTime(it.PubDate),
		})
	}
	return out, nil
}

type awsBuilderFeed struct {
	FeedContents *[]struct {
		Title                       string `json:"title"`
		ContentID                   string `json:"contentId"`
		Status                      string `json:"status"`
		ContentType                 string `json:"contentType"`
		LastPublishedAt             int64  `json:"lastPublishedAt"`
		ContentTypeSpecificResponse struct {
			Article struct {
				Description string `json:"description"`
			} `json:"article"`
		} `json:"contentTypeSpecificResponse"`
	} `json:"feedContents"`
}

// parseAWSBuilder keeps live articles only.
func parseAWSBuilder(data []byte) ([]Item, error) {
	var f awsBuilderFeed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse aws builder feed")
	}
	if f.FeedContents == nil {
		return nil, errors.New("aws builder feed has no feedContents array")
	}
	var out []Item
	for _, it := range *f.FeedContents {
		if it.Status != "LIVE" || it.ContentType != "ARTICLE" {
			continue
		}
		var published time.Time
		if it.LastPublishedAt > 0 {
			published = time.UnixMilli(it.LastPublishedAt).UTC()
		}
		out = append(out, Item{
			Title:     Clean(it.Title),
			Link:      awsBuilderBase + it.ContentID,
			Summary:   Clean(it.ContentTypeSpecificResponse.Article.Description),
			Published: published,
		})
	}
	return out, nil
}

var textPolicy = bluemonday.StrictPolicy()

// Clean drops markup from s, decodes entities and collapses whitespace.
// Escaped markup (&lt;p&gt;) is decoded first so it gets dropped too.
func Clean(s string) string {
	s = html.UnescapeString(s)
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most max runes plus an ellipsis, cutting at a
// word boundary when one falls in the last 30 runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := max
	for i := max; i > max-30 && i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "..."
}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
