package content

import (
	"io/fs"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RecentFallbackWindow is how many recent fallback picks are avoided.
const RecentFallbackWindow = 5

// Phrases holds the small talk used when nothing else matches, plus the
// rotating disclaimer lines shown under the composer.
type Phrases struct {
	Fallbacks   []string `yaml:"fallbacks"`
	Disclaimers []string `yaml:"disclaimers"`

	intn func(n int) int
}

func LoadPhrases(fsys fs.FS, name string) (*Phrases, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var p Phrases
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	if len(p.Fallbacks) == 0 {
		return nil, errors.Errorf("%s defines no fallbacks", name)
	}
	p.intn = rand.IntN
	return &p, nil
}

// WithPicker replaces the random index source.
func (p *Phrases) WithPicker(intn func(n int) int) *Phrases {
	p.intn = intn
	return p
}

func (p *Phrases) pick(n int) int {
	if p.intn == nil {
		return rand.IntN(n)
	}
	return p.intn(n)
}

// Fallback picks a random fallback, skipping the indexes in recent. It
// returns the phrase and the updated recent list (newest first).
func (p *Phrases) Fallback(recent []int) (string, []int) {
	candidates := make([]int, 0, len(p.Fallbacks))
	for i := range p.Fallbacks {
		if !slices.Contains(recent, i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range p.Fallbacks {
			candidates = append(candidates, i)
		}
	}
	idx := candidates[p.pick(len(candidates))]
	recent = append([]int{idx}, recent...)
	if len(recent) > RecentFallbackWindow {
		recent = recent[:RecentFallbackWindow]
	}
	return p.Fallbacks[idx], recent
}

func (p *Phrases) Disclaimer() string {
	if len(p.Disclaimers) == 0 {
		return ""
	}
	return p.Disclaimers[p.pick(len(p.Disclaimers))]
}
