package dialogue

import (
	"io/fs"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Question is a human-check prompt with the set of answers we accept.
type Question struct {
	ID      string   `yaml:"id" json:"id"`
	Prompt  string   `yaml:"question" json:"question"`
	Answers []string `yaml:"answers" json:"-"`
}

// Accepts reports whether answer matches one of the accepted answers after
// lower-casing and trimming.
func (q Question) Accepts(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	for _, a := range q.Answers {
		if normalized == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

type questionFile struct {
	Questions []Question `yaml:"questions"`
}

// QuestionBank draws verification questions at random.
type QuestionBank struct {
	questions []Question
	intn      func(n int) int
}

func NewQuestionBank(questions []Question) (*QuestionBank, error) {
	if len(questions) == 0 {
		return nil, errors.New("question bank is empty")
	}
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if q.ID == "" || q.Prompt == "" || len(q.Answers) == 0 {
			return nil, errors.Errorf("question %q is incomplete", q.ID)
		}
		if seen[q.ID] {
			return nil, errors.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return &QuestionBank{questions: slices.Clone(questions), intn: rand.IntN}, nil
}

// LoadQuestions reads a questions.yaml document from fsys.
func LoadQuestions(fsys fs.FS, name string) (*QuestionBank, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var qf questionFile
	if err := yaml.Unmarshal(b, &qf); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	return NewQuestionBank(qf.Questions)
}

// WithPicker replaces the random index source. Used by tests.
func (b *QuestionBank) WithPicker(intn func(n int) int) *QuestionBank {
	b.intn = intn
	return b
}

func (b *QuestionBank) Len() int { return len(b.questions) }

func (b *QuestionBank) Get(id string) (Question, bool) {
	for _, q := range b.questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Draw picks a question whose id is not in asked. Once every id has been
// asked the returned asked list starts over, so ids may repeat.
func (b *QuestionBank) Draw(asked []string) (Question, []string) {
	available := make([]Question, 0, len(b.questions))
	for _, q := range b.questions {
		if !slices.Contains(asked, q.ID) {
			available = append(available, q)
		}
	}
	if len(available) == 0 {
		asked = nil
		available = b.questions
	}
	q := available[b.intn(len(available))]
	return q, append(slices.Clone(asked), q.ID)
}
