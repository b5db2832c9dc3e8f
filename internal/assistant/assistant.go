// Package assistant decides what the site says back to a visitor. Every
// reply is chosen from prepared content: the contact dialogue, a topic's
// canned responses, a keyword rule's markdown, or a fallback phrase.
package assistant

import (
	"context"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"portfolio-chat-backend/internal/contact"
	"portfolio-chat-backend/internal/content"
	"portfolio-chat-backend/internal/dialogue"
	"portfolio-chat-backend/internal/store"
)

var (
	ErrEmptyMessage = errors.New("message is required")
	errNoSubmitter  = errors.New("no submitter configured")
)

// Submitter delivers a finished contact dialogue.
type Submitter interface {
	Submit(ctx context.Context, s contact.Submission) (*contact.Receipt, error)
}

type Kind string

const (
	KindDialogue Kind = "dialogue"
	KindTopic    Kind = "topic"
	KindContent  Kind = "content"
	KindFallback Kind = "fallback"
)

type Request struct {
	Message string
	// Topic is the thread the visitor is in. Empty means free chat.
	Topic string
}

type Reply struct {
	Text      string
	Kind      Kind
	Topic     string
	FollowUps []string
	Step      dialogue.Step
	Action    dialogue.Action
	RuleID    string
	// RequestID and Sent are set once a contact submission went through.
	RequestID string
	Sent      bool
	// Failure is the visitor-facing reason the last delivery failed.
	Failure string
}

type Options struct {
	Sessions  *store.MemoryStore
	Machine   *dialogue.Machine
	Catalog   *content.Catalog
	Matcher   *content.Matcher
	Phrases   *content.Phrases
	Submitter Submitter
}

type Assistant struct {
	sessions  *store.MemoryStore
	machine   *dialogue.Machine
	catalog   *content.Catalog
	matcher   *content.Matcher
	phrases   *content.Phrases
	submitter Submitter
	now       func() time.Time
}

func New(opts Options) (*Assistant, error) {
	switch {
	case opts.Sessions == nil:
		return nil, errors.New("assistant: session store is required")
	case opts.Machine == nil:
		return nil, errors.New("assistant: dialogue machine is required")
	case opts.Catalog == nil:
		return nil, errors.New("assistant: topic catalog is required")
	case opts.Matcher == nil:
		return nil, errors.New("assistant: content matcher is required")
	case opts.Phrases == nil:
		return nil, errors.New("assistant: phrases are required")
	}
	if opts.Submitter == nil {
		log.Warn().Msg("no submission endpoint configured; contact messages cannot be delivered")
	}
	return &Assistant{
		sessions:  opts.Sessions,
		machine:   opts.Machine,
		catalog:   opts.Catalog,
		matcher:   opts.Matcher,
		phrases:   opts.Phrases,
		submitter: opts.Submitter,
		now:       time.Now,
	}, nil
}

// Reply answers one visitor message. Dialogue triggers win over everything,
// then an unfinished dialogue, then the visitor's topic, then keyword rules.
func (a *Assistant) Reply(ctx context.Context, sessionID string, req Request) (Reply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Reply{}, ErrEmptyMessage
	}

	var out Reply
	err := a.sessions.WithSession(sessionID, func(s *store.Session) error {
		out = a.reply(ctx, s, msg, req.Topic)
		now := a.now()
		s.Messages = append(s.Messages,
			store.Message{Role: "user", Content: msg, Topic: req.Topic, At: now},
			store.Message{Role: "assistant", Content: out.Text, Kind: string(out.Kind), Topic: out.Topic, At: now},
		)
		return nil
	})
	return out, err
}

func (a *Assistant) reply(ctx context.Context, s *store.Session, msg, topicID string) Reply {
	if a.machine.IsTrigger(msg) {
		res := a.machine.Start(&s.Dialogue)
		return a.dialogueReply(s, res)
	}

	if s.Dialogue.Active() {
		return a.continueDialogue(ctx, s, msg)
	}

	if t, ok := a.catalog.Get(topicID); ok {
		return Reply{Text: s.Cycler.Next(t), Kind: KindTopic, Topic: t.ID, FollowUps: t.FollowUps}
	}

	if m, ok := a.matcher.Load(ctx, msg); ok {
		return Reply{Text: m.Content, Kind: KindContent, RuleID: m.Rule.ID}
	}

	var text string
	text, s.RecentFallbacks = a.phrases.Fallback(s.RecentFallbacks)
	return Reply{Text: text, Kind: KindFallback}
}

func (a *Assistant) continueDialogue(ctx context.Context, s *store.Session, msg string) Reply {
	res := a.machine.Handle(&s.Dialogue, msg)
	if res.Action != dialogue.ActionSend {
		return a.dialogueReply(s, res)
	}

	first := res.Reply
	receipt, err := a.submit(ctx, s.Dialogue)
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Int("retry_count", s.Dialogue.RetryCount).Msg("contact submission failed")
		failure := dialogue.Failure{Message: contact.FriendlyMessage(err), Retryable: contact.IsRetryable(err)}
		if errors.Is(err, errNoSubmitter) {
			failure = dialogue.Failure{Message: "Email delivery isn't set up on this site right now."}
		}
		res = a.machine.Failed(&s.Dialogue, failure)
		out := a.dialogueReply(s, res)
		out.Text = first + "\n\n" + out.Text
		out.Action = dialogue.ActionSend
		return out
	}

	log.Info().Str("session_id", s.ID).Str("request_id", receipt.RequestID).Msg("contact submission delivered")
	res = a.machine.Delivered(&s.Dialogue)
	out := a.dialogueReply(s, res)
	out.Text = first + "\n\n" + out.Text
	out.Action = dialogue.ActionSend
	out.RequestID = receipt.RequestID
	out.Sent = true
	return out
}

func (a *Assistant) submit(ctx context.Context, st dialogue.State) (*contact.Receipt, error) {
	if a.submitter == nil {
		return nil, errNoSubmitter
	}
	return a.submitter.Submit(ctx, contact.Submission{
		Name:               st.Name,
		Email:              st.Email,
		Message:            st.Message,
		VerificationPassed: true,
		Timestamp:          a.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

func (a *Assistant) dialogueReply(s *store.Session, res dialogue.Result) Reply {
	out := Reply{Text: res.Reply, Kind: KindDialogue, Step: s.Dialogue.Step, Action: res.Action}
	if s.Dialogue.Step == dialogue.StepError {
		out.Failure = s.Dialogue.LastFailure
	}
	return out
}

// Topics lists topics in display order.
func (a *Assistant) Topics() []*content.Topic { return a.catalog.Topics() }

func (a *Assistant) DefaultTopic() *content.Topic { return a.catalog.Default() }

func (a *Assistant) Topic(id string) (*content.Topic, bool) { return a.catalog.Get(id) }

// Matches lists every rule the input would match, best first.
func (a *Assistant) Matches(input string) []content.Rule { return a.matcher.AllMatches(input) }

func (a *Assistant) Rules() []content.Rule { return a.matcher.Rules() }

// Reset clears the session's dialogue, topic positions and history. The
// chosen theme survives.
func (a *Assistant) Reset(sessionID string) {
	_ = a.sessions.WithSession(sessionID, func(s *store.Session) error {
		a.machine.Reset(&s.Dialogue)
		s.Cycler = content.Cycler{}
		s.RecentFallbacks = nil
		s.Messages = nil
		return nil
	})
}

func (a *Assistant) History(sessionID string) []store.Message {
	return a.sessions.Get(sessionID)
}

func (a *Assistant) Disclaimer() string { return a.phrases.Disclaimer() }

// Chunks splits text into pieces of at most size runes, for simulated
// typing. Iteration stops early when the consumer stops pulling.
func Chunks(text string, size int) iter.Seq[string] {
	if size <= 0 {
		size = 1
	}
	return func(yield func(string) bool) {
		rest := text
		for len(rest) > 0 {
			end, n := 0, 0
			for end < len(rest) && n < size {
				_, w := utf8.DecodeRuneInString(rest[end:])
				end += w
				n++
			}
			if !yield(rest[:end]) {
				return
			}
			rest = rest[end:]
		}
	}
}
