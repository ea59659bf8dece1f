// Package mail delivers rendered notifications.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"calalarm/internal/config"
	appLog "calalarm/internal/log"
)

// Message is a rendered notification ready to be sent.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Sender transmits messages.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPSender sends through one SMTP relay. A connection is dialed per
// message.
type SMTPSender struct {
	from   string
	client *gomail.Client
}

// NewSMTPSender builds a sender from the mail section of the config.
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail: sender address is empty")
	}
	policy, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return nil, err
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: client: %w", err)
	}
	return &SMTPSender{from: cfg.From, client: client}, nil
}

func tlsPolicy(s string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "opportunistic", "":
		return gomail.TLSOpportunistic, nil
	case "none":
		return gomail.NoTLS, nil
	}
	return gomail.NoTLS, fmt.Errorf("mail: unsupported tls policy %q", s)
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := buildMsg(s.from, m)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", strings.Join(m.To, ","), err)
	}
	return nil
}

func buildMsg(from string, m Message) (*gomail.Msg, error) {
	if len(m.To) == 0 {
		return nil, errors.New("mail: no recipients")
	}
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("mail: from %q: %w", from, err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("mail: to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}

// LogSender only logs messages. Used for dry runs.
type LogSender struct{}

func (LogSender) Send(_ context.Context, m Message) error {
	appLog.Info("mail (dry run)", "to", strings.Join(m.To, ","), "subject", m.Subject)
	return nil
}
