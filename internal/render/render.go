// Package render turns stored markdown into presentational markup.
package render

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

type Renderer interface {
	Render(markdown string) (string, error)
}

const (
	NameSimple   = "simple"
	NameGoldmark = "goldmark"
	NameTerminal = "terminal"
)

// New returns the renderer registered under name. HTML renderers come
// wrapped in a sanitizer.
func New(name string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameSimple:
		return Sanitized(Simple{}), nil
	case NameGoldmark:
		return Sanitized(NewGoldmark()), nil
	case NameTerminal:
		return NewTerminal(80)
	default:
		return nil, errors.Errorf("unknown renderer %q", name)
	}
}

type substitution struct {
	re   *regexp.Regexp
	repl string
}

// The order matters: later patterns see the output of earlier ones.
var simpleSubstitutions = []substitution{
	{regexp.MustCompile(`(?m)^### (.*)$`), `<h3>$1</h3>`},
	{regexp.MustCompile(`(?m)^## (.*)$`), `<h2>$1</h2>`},
	{regexp.MustCompile(`(?m)^# (.*)$`), `<h1>$1</h1>`},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), `<strong>$1</strong>`},
	{regexp.MustCompile(`\*(.*?)\*`), `<em>$1</em>`},
	{regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```"), `<pre><code>$2</code></pre>`},
	{regexp.MustCompile("`([^`]+)`"), `<code>$1</code>`},
	{regexp.MustCompile(`(?m)^- (.*)$`), `<li>• $1</li>`},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`},
	{regexp.MustCompile(`\n\n`), `</p><p>`},
	{regexp.MustCompile(`\n`), `<br />`},
}

// Simple applies a fixed list of pattern substitutions. It does not parse
// markdown; nesting works only as far as the substitution order allows.
type Simple struct{}

func (Simple) Render(markdown string) (string, error) {
	out := markdown
	for _, s := range simpleSubstitutions {
		out = s.re.ReplaceAllString(out, s.repl)
	}
	return "<p>" + out + "</p>", nil
}

// Goldmark renders CommonMark with GitHub extensions.
type Goldmark struct {
	md goldmark.Markdown
}

func NewGoldmark() *Goldmark {
	return &Goldmark{md: goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)}
}

func (g *Goldmark) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(markdown), &buf); err != nil {
		return "", errors.Wrap(err, "goldmark convert")
	}
	return buf.String(), nil
}

// Terminal renders ANSI-styled text for the command line chat.
type Terminal struct {
	tr *glamour.TermRenderer
}

func NewTerminal(wordWrap int) (*Terminal, error) {
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create terminal renderer")
	}
	return &Terminal{tr: tr}, nil
}

func (t *Terminal) Render(markdown string) (string, error) {
	out, err := t.tr.Render(markdown)
	if err != nil {
		return "", errors.Wrap(err, "glamour render")
	}
	return out, nil
}

type sanitized struct {
	next   Renderer
	policy *bluemonday.Policy
}

// Sanitized strips unsafe markup (scripts, event handlers, javascript:
// links) from whatever next produces.
func Sanitized(next Renderer) Renderer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	return &sanitized{next: next, policy: p}
}

func (s *sanitized) Render(markdown string) (string, error) {
	out, err := s.next.Render(markdown)
	if err != nil {
		return "", err
	}
	return s.policy.Sanitize(out), nil
}
