package relay

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notification is the message the site owner receives for a submission.
type Notification struct {
	Subject string
	Body    string
	ReplyTo string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FormatNotification renders the owner-facing text for a validated
// submission.
func FormatNotification(in Input, requestID string) Notification {
	body := fmt.Sprintf(`Contact Form Submission

Name: %s
Email: %s

Message:
%s

Submitted: %s
Verification: Passed
Source: Conversational Email Flow
Request ID: %s

---
This message was sent through the conversational email system on your website.
Reply directly to %s to respond to %s.`, in.Name, in.Email, in.Message, in.Timestamp, requestID, in.Email, in.Name)

	return Notification{
		Subject: "Contact Form: " + in.Name,
		Body:    body,
		ReplyTo: in.Email,
	}
}

// LogNotifier writes notifications to the log. Used when no mail server is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info().Str("subject", n.Subject).Str("reply_to", n.ReplyTo).Msg(n.Body)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier mails notifications through a plain SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one notification recipient is required")
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.From == "" {
		cfg.From = cfg.To[0]
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}, nil
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := buildMessage(s.cfg.From, s.cfg.To, n, time.Now())
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	// smtp.SendMail has no context; run it aside so a cancelled request
	// does not hold the handler.
	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, s.cfg.From, s.cfg.To, msg) }()
	select {
	case err := <-done:
		return errors.Wrap(err, "smtp send")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from string, to []string, n Notification, now time.Time) []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headerSafe(v))
		b.WriteString("\r\n")
	}
	header("From", from)
	header("To", strings.Join(to, ", "))
	if n.ReplyTo != "" {
		header("Reply-To", n.ReplyTo)
	}
	header("Subject", n.Subject)
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// headerSafe drops line breaks so visitor input cannot add headers.
func headerSafe(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
