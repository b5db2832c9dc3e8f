// Package content loads the site's static content (topics, keyword rules,
// canned phrases) and selects what to show for a visitor message.
package content

import (
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Topic is a named content bucket with canned text.
type Topic struct {
	ID             string   `yaml:"id" json:"id"`
	Title          string   `yaml:"title" json:"title"`
	Directory      string   `yaml:"directory" json:"-"`
	Icon           string   `yaml:"icon" json:"icon,omitempty"`
	Description    string   `yaml:"description" json:"description,omitempty"`
	InitialMessage string   `yaml:"-" json:"initialMessage"`
	Responses      []string `yaml:"-" json:"-"`
	FollowUps      []string `yaml:"-" json:"followUps"`
}

// ResponseAt returns the nth canned response, wrapping around.
func (t *Topic) ResponseAt(n int) string {
	if len(t.Responses) == 0 {
		return t.InitialMessage
	}
	if n < 0 {
		n = -n
	}
	return t.Responses[n%len(t.Responses)]
}

type topicsFile struct {
	DefaultTopic string  `yaml:"default_topic"`
	Topics       []Topic `yaml:"topics"`
}

// Catalog is the immutable set of topics loaded at start.
type Catalog struct {
	defaultTopic string
	order        []string
	topics       map[string]*Topic
}

// LoadCatalog reads topics.yaml from fsys and every topic's markdown files:
// <dir>/initialMessage.md, <dir>/responses/*.md and <dir>/followUps/*.md.
func LoadCatalog(fsys fs.FS, name string) (*Catalog, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var tf topicsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	if len(tf.Topics) == 0 {
		return nil, errors.Errorf("%s defines no topics", name)
	}

	c := &Catalog{defaultTopic: tf.DefaultTopic, topics: make(map[string]*Topic, len(tf.Topics))}
	for _, t := range tf.Topics {
		if t.ID == "" {
			return nil, errors.Errorf("%s: topic without id", name)
		}
		if _, dup := c.topics[t.ID]; dup {
			return nil, errors.Errorf("%s: duplicate topic %q", name, t.ID)
		}
		if t.Directory == "" {
			t.Directory = t.ID
		}
		if err := loadTopicFiles(fsys, &t); err != nil {
			return nil, errors.Wrapf(err, "topic %s", t.ID)
		}
		topic := t
		c.topics[t.ID] = &topic
		c.order = append(c.order, t.ID)
	}
	if c.defaultTopic == "" {
		c.defaultTopic = c.order[0]
	}
	if _, ok := c.topics[c.defaultTopic]; !ok {
		return nil, errors.Errorf("%s: default topic %q is not defined", name, c.defaultTopic)
	}
	return c, nil
}

func loadTopicFiles(fsys fs.FS, t *Topic) error {
	initial, err := fs.ReadFile(fsys, path.Join(t.Directory, "initialMessage.md"))
	if err != nil {
		return errors.Wrap(err, "initial message")
	}
	t.InitialMessage = strings.TrimSpace(string(initial))

	if t.Responses, err = loadNumbered(fsys, path.Join(t.Directory, "responses")); err != nil {
		return err
	}
	// Follow-up suggestions are optional.
	t.FollowUps, err = loadNumbered(fsys, path.Join(t.Directory, "followUps"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadNumbered returns the trimmed contents of every .md file in dir,
// ordered by file name.
func loadNumbered(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no markdown files in %s", dir)
	}
	slices.Sort(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		b, err := fs.ReadFile(fsys, path.Join(dir, n))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", n)
		}
		out = append(out, strings.TrimSpace(string(b)))
	}
	return out, nil
}

func (c *Catalog) Get(id string) (*Topic, bool) {
	t, ok := c.topics[id]
	return t, ok
}

func (c *Catalog) Default() *Topic { return c.topics[c.defaultTopic] }

// Topics returns topics in the order they were declared.
func (c *Catalog) Topics() []*Topic {
	out := make([]*Topic, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.topics[id])
	}
	return out
}

// Cycler hands out each topic's canned responses in order, one per call.
// The zero value is ready to use; it is not safe for concurrent use.
type Cycler struct {
	Counts map[string]int `json:"counts,omitempty"`
}

func (c *Cycler) Next(t *Topic) string {
	if c.Counts == nil {
		c.Counts = make(map[string]int)
	}
	n := c.Counts[t.ID]
	c.Counts[t.ID] = n + 1
	return t.ResponseAt(n)
}
