package feed

import (
	"fmt"
	"slices"
	"strings"
)

type Layout string

const (
	// LayoutPosts gives each item a heading, date line and "Read more" link.
	LayoutPosts Layout = "posts"
	// LayoutCompact puts title and date on one line, summary below.
	LayoutCompact Layout = "compact"
)

const (
	DefaultMaxItems      = 5
	DefaultSummaryLength = 200
)

// Page describes the markdown written for one topic.
type Page struct {
	Title         string `yaml:"title"`
	Intro         string `yaml:"intro"`
	Footer        string `yaml:"footer"`
	Layout        Layout `yaml:"layout"`
	MaxItems      int    `yaml:"maxItems"`
	SummaryLength int    `yaml:"summaryLength"`
}

// Markdown renders the newest items, newest first.
func (p Page) Markdown(items []Item) string {
	maxItems := p.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	summaryLen := p.SummaryLength
	if summaryLen <= 0 {
		summaryLen = DefaultSummaryLength
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int { return b.Published.Compare(a.Published) })
	if len(sorted) > maxItems {
		sorted = sorted[:maxItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if p.Intro != "" {
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(p.Intro))
	}

	sep := "\n\n"
	if p.Layout != LayoutCompact {
		sep = "\n\n---\n\n"
	}
	for i, it := range sorted {
		if i > 0 {
			b.WriteString(sep)
		}
		title := it.Title
		if title == "" {
			title = "Untitled Post"
		}
		summary := Truncate(it.Summary, summaryLen)
		if summary == "" {
			summary = "No description available."
		}
		if p.Layout == LayoutCompact {
			fmt.Fprintf(&b, "[%s](%s) | %s\n%s [→](%s)", title, it.Link, compactDate(it), summary, it.Link)
		} else {
			fmt.Fprintf(&b, "## [%s](%s)\n*Published: %s*\n\n%s\n\n[Read more →](%s)", title, it.Link, longDate(it), summary, it.Link)
		}
	}

	if p.Footer != "" {
		b.WriteString(sep)
		b.WriteString(strings.TrimSpace(p.Footer))
	}
	b.WriteString("\n")
	return b.String()
}

func longDate(it Item) string {
	if it.Published.IsZero() {
		return "Unknown date"
	}
	return it.Published.Format("January 2, 2006")
}

func compactDate(it Item) string {
	if it.Published.IsZero() {
		return "Unknown date"
	}
	return it.Published.Format("02/01/2006")
}
