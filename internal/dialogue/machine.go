// Package dialogue implements the scripted contact conversation: collect a
// name, an email address and a message, check that the visitor is human,
// then hand the collected data off for delivery.
//
// The machine itself holds no visitor state. Callers keep a State per
// session and pass it in; every transition is a pure update of that State
// plus the reply text to show.
package dialogue

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

type Step string

const (
	StepIdle              Step = ""
	StepCollectingName    Step = "collecting_name"
	StepCollectingEmail   Step = "collecting_email"
	StepCollectingMessage Step = "collecting_message"
	StepVerifyingHuman    Step = "verifying_human"
	StepSending           Step = "sending"
	StepComplete          Step = "complete"
	StepError             Step = "error"
)

// MaxRetries is how many visitor-confirmed resends follow the first failed
// delivery before the dialogue gives up.
const MaxRetries = 2

// State is one visitor's progress through the dialogue.
type State struct {
	Step             Step     `json:"step"`
	Name             string   `json:"name,omitempty"`
	Email            string   `json:"email,omitempty"`
	Message          string   `json:"message,omitempty"`
	QuestionID       string   `json:"questionId,omitempty"`
	AskedQuestionIDs []string `json:"askedQuestionIds,omitempty"`
	RetryCount       int      `json:"retryCount"`
	LastFailure      string   `json:"lastFailure,omitempty"`
	Exhausted        bool     `json:"exhausted,omitempty"`
}

// Active reports whether the next visitor message belongs to the dialogue.
func (s State) Active() bool {
	switch s.Step {
	case StepIdle, StepComplete:
		return false
	case StepError:
		return !s.Exhausted
	default:
		return true
	}
}

type Action string

const (
	ActionNone    Action = ""
	ActionSend    Action = "send_email"
	ActionAbandon Action = "abandon"
)

type Result struct {
	Reply  string
	Action Action
}

// Failure describes a delivery attempt that did not go through.
type Failure struct {
	Message   string
	Retryable bool
}

var (
	nameRe  = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\x{0100}-\x{017F}\x{0180}-\x{024F}\x{1E00}-\x{1EFF}\s'-]+$`)
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	yesWords = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "retry", "try again", "please"}
	noWords  = []string{"no", "n", "nope", "cancel", "stop", "nevermind", "never mind"}
)

func ValidName(name string) bool {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 100 {
		return false
	}
	return nameRe.MatchString(name)
}

func ValidEmail(email string) bool {
	return emailRe.MatchString(strings.TrimSpace(email))
}

type Machine struct {
	owner      string
	ownerEmail string
	bank       *QuestionBank
	triggers   []*regexp.Regexp
}

// NewMachine builds a dialogue for the site owner. Trigger phrases are
// matched against the owner's name.
func NewMachine(owner, ownerEmail string, bank *QuestionBank) *Machine {
	o := regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(owner)))
	patterns := []string{
		`send.*email.*` + o,
		`contact.*` + o,
		`email.*` + o,
		`reach.*out.*` + o,
		`get.*in.*touch.*` + o,
	}
	triggers := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		triggers = append(triggers, regexp.MustCompile(`(?i)`+p))
	}
	return &Machine{owner: owner, ownerEmail: ownerEmail, bank: bank, triggers: triggers}
}

// IsTrigger reports whether text asks to start the contact dialogue.
func (m *Machine) IsTrigger(text string) bool {
	for _, re := range m.triggers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Start resets st and asks for the visitor's name.
func (m *Machine) Start(st *State) Result {
	*st = State{Step: StepCollectingName}
	return Result{Reply: fmt.Sprintf("I'd be happy to help you send %s an email! What's your name so %s knows who's reaching out?", m.owner, m.owner)}
}

// Reset drops any dialogue progress, including collected data.
func (m *Machine) Reset(st *State) {
	*st = State{}
}

// Handle consumes one visitor message in the current step.
func (m *Machine) Handle(st *State, text string) Result {
	switch st.Step {
	case StepCollectingName:
		name := strings.TrimSpace(text)
		if !ValidName(name) {
			return Result{Reply: "Could you please provide your full name? Just your first and last name would be perfect."}
		}
		st.Name = name
		st.Step = StepCollectingEmail
		return Result{Reply: fmt.Sprintf("Nice to meet you, %s! What's your email address so %s can reply to you?", name, m.owner)}

	case StepCollectingEmail:
		email := strings.TrimSpace(text)
		if !ValidEmail(email) {
			return Result{Reply: fmt.Sprintf("That doesn't look like a valid email address. Could you please provide a valid email so %s can reply?", m.owner)}
		}
		st.Email = email
		st.Step = StepCollectingMessage
		return Result{Reply: fmt.Sprintf("Perfect! What would you like to tell %s?", m.owner)}

	case StepCollectingMessage:
		msg := strings.TrimSpace(text)
		if msg == "" {
			return Result{Reply: fmt.Sprintf("What would you like to tell %s?", m.owner)}
		}
		st.Message = msg
		q := m.nextQuestion(st)
		st.Step = StepVerifyingHuman
		return Result{Reply: "Great message! Just need to check you're human first. " + q.Prompt}

	case StepVerifyingHuman:
		current, ok := m.bank.Get(st.QuestionID)
		if !ok {
			q := m.nextQuestion(st)
			return Result{Reply: "Let me ask you something else. " + q.Prompt}
		}
		if current.Accepts(text) {
			st.Step = StepSending
			return Result{Reply: "You're absolutely right! Sending your message now...", Action: ActionSend}
		}
		q := m.nextQuestion(st)
		return Result{Reply: "That's not quite right, but no worries! Let me try a different question. " + q.Prompt}

	case StepSending:
		return Result{Reply: fmt.Sprintf("Hang on, I'm still sending your message to %s.", m.owner)}

	case StepError:
		if st.Exhausted {
			return Result{Reply: m.giveUpText()}
		}
		answer := normalizeChoice(text)
		switch {
		case slices.Contains(yesWords, answer):
			st.RetryCount++
			st.Step = StepSending
			return Result{Reply: "Okay, trying again...", Action: ActionSend}
		case slices.Contains(noWords, answer):
			m.Reset(st)
			return Result{Reply: fmt.Sprintf("No problem, your message was not sent. You can ask me to contact %s again any time.", m.owner), Action: ActionAbandon}
		default:
			return Result{Reply: "Would you like me to try sending it again? Please answer yes or no."}
		}
	}

	m.Reset(st)
	return Result{Reply: "I'm not sure what happened. Let's start over."}
}

// Delivered records a successful submission.
func (m *Machine) Delivered(st *State) Result {
	st.Step = StepComplete
	st.LastFailure = ""
	return Result{Reply: fmt.Sprintf("Your message has been sent to %s, who typically responds within 24-48 hours.", m.owner)}
}

// Failed records a failed submission and decides whether the visitor gets
// another chance.
func (m *Machine) Failed(st *State, f Failure) Result {
	st.Step = StepError
	st.LastFailure = f.Message
	if !f.Retryable || st.RetryCount >= MaxRetries {
		st.Exhausted = true
		return Result{Reply: strings.TrimSpace(f.Message + " " + m.giveUpText())}
	}
	return Result{Reply: strings.TrimSpace(f.Message + " Would you like me to try sending it again? (yes/no)")}
}

func (m *Machine) giveUpText() string {
	if m.ownerEmail != "" {
		return fmt.Sprintf("Sorry, I couldn't deliver your message. Please reach %s directly at %s.", m.owner, m.ownerEmail)
	}
	return fmt.Sprintf("Sorry, I couldn't deliver your message. Please reach %s through the links on the contact page.", m.owner)
}

func (m *Machine) nextQuestion(st *State) Question {
	q, asked := m.bank.Draw(st.AskedQuestionIDs)
	st.QuestionID = q.ID
	st.AskedQuestionIDs = asked
	return q
}

func normalizeChoice(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?, ")
}
