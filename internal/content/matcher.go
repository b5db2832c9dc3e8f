package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Rule maps a trigger substring to a response file.
type Rule struct {
	ID          string `json:"id"`
	Trigger     string `json:"trigger"`
	Description string `json:"description"`
	ContentFile string `json:"contentFile"`
	Priority    int    `json:"priority"`
}

type RuleSet struct {
	Rules []Rule `json:"rules"`
}

// LoadRules reads a content-rules.json document.
func LoadRules(fsys fs.FS, name string) ([]Rule, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var rs RuleSet
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	for i, r := range rs.Rules {
		if r.Trigger == "" || r.ContentFile == "" {
			return nil, errors.Errorf("rule %d (%s) needs a trigger and a contentFile", i, r.ID)
		}
	}
	return rs.Rules, nil
}

// MinMatchLength is the shortest normalized input the matcher considers.
const MinMatchLength = 3

var nonWordRe = regexp.MustCompile(`[^\w]`)

// Normalize lower-cases s and drops whitespace and punctuation.
func Normalize(s string) string {
	return nonWordRe.ReplaceAllString(strings.ToLower(s), "")
}

// Match is a rule hit together with its loaded markdown.
type Match struct {
	Rule    Rule
	Content string
	Input   string
}

// Matcher selects content rules for free text and caches their files.
type Matcher struct {
	mu     sync.RWMutex
	rules  []Rule
	source Source
	cache  map[string]string
}

func NewMatcher(rules []Rule, source Source) *Matcher {
	m := &Matcher{source: source, cache: make(map[string]string)}
	m.SetRules(rules)
	return m
}

// SetRules swaps the rule list. Rules are kept sorted by ascending priority
// value; equal priorities keep their file order.
func (m *Matcher) SetRules(rules []Rule) {
	sorted := slices.Clone(rules)
	for i := range sorted {
		sorted[i].Trigger = Normalize(sorted[i].Trigger)
	}
	slices.SortStableFunc(sorted, func(a, b Rule) int { return a.Priority - b.Priority })
	m.mu.Lock()
	m.rules = sorted
	m.mu.Unlock()
}

func (m *Matcher) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rules)
}

// FindMatch returns the first rule whose trigger occurs in the normalized
// input.
func (m *Matcher) FindMatch(input string) (Rule, bool) {
	normalized := Normalize(input)
	if len(normalized) < MinMatchLength {
		return Rule{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.Trigger != "" && strings.Contains(normalized, r.Trigger) {
			return r, true
		}
	}
	return Rule{}, false
}

// AllMatches lists every rule that would match input, in priority order.
func (m *Matcher) AllMatches(input string) []Rule {
	normalized := Normalize(input)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Rule
	for _, r := range m.rules {
		if r.Trigger != "" && strings.Contains(normalized, r.Trigger) {
			out = append(out, r)
		}
	}
	return out
}

// Load matches input and returns the rule's content. A file that cannot be
// fetched yields a placeholder message instead of an error.
func (m *Matcher) Load(ctx context.Context, input string) (*Match, bool) {
	rule, ok := m.FindMatch(input)
	if !ok {
		return nil, false
	}
	return &Match{Rule: rule, Content: m.content(ctx, rule), Input: input}, true
}

func (m *Matcher) content(ctx context.Context, rule Rule) string {
	m.mu.RLock()
	cached, ok := m.cache[rule.ContentFile]
	m.mu.RUnlock()
	if ok {
		return cached
	}
	text, err := m.source.Fetch(ctx, rule.ContentFile)
	if err != nil {
		log.Warn().Err(err).Str("rule", rule.ID).Str("file", rule.ContentFile).Msg("content unavailable")
		return Unavailable(rule.Description)
	}
	m.mu.Lock()
	m.cache[rule.ContentFile] = text
	m.mu.Unlock()
	return text
}

// Invalidate forgets the cached copy of one file.
func (m *Matcher) Invalidate(name string) {
	m.mu.Lock()
	delete(m.cache, name)
	m.mu.Unlock()
}

func (m *Matcher) InvalidateAll() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}

// Unavailable is the markdown shown when a rule's file cannot be loaded.
func Unavailable(description string) string {
	return fmt.Sprintf("# Content Not Available\n\nSorry, the content for %q could not be loaded at this time.", description)
}
