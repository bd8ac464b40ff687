// Package smtp delivers mail to an SMTP relay.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Transport sends each message over a fresh SMTP connection. It only holds
// immutable settings and is safe for concurrent use.
type Transport struct {
	Host      string
	Port      int
	Username  string // empty disables SMTP AUTH
	Password  string
	TLSVerify bool // verify the relay's certificate when STARTTLS is offered
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// New creates a Transport from the process configuration.
func New(cfg mailrelay.Config, logger zerolog.Logger) *Transport {
	return &Transport{
		Host:      cfg.MailHost,
		Port:      cfg.MailPort,
		Username:  cfg.MailUsername,
		Password:  cfg.MailPassword,
		TLSVerify: cfg.MailTLSVerify,
		Timeout:   cfg.TransportTimeout,
		Logger:    logger,
	}
}

// Send implements dispatch.Transport.
func (t *Transport) Send(ctx context.Context, msg mailrelay.Message) (string, error) {
	logger := t.Logger.With().Str("module", "smtp").Str("host", t.Host).Int("port", t.Port).Logger()

	m, id, err := Build(msg)
	if err != nil {
		return "", err
	}

	client, err := mail.NewClient(t.Host, t.options()...)
	if err != nil {
		return "", fmt.Errorf("creating smtp client: %w", err)
	}

	logger.Debug().Str("message_id", id).Msg("Dialing relay")
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", err
	}
	return id, nil
}

func (t *Transport) options() []mail.Option {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         t.Host,
			InsecureSkipVerify: !t.TLSVerify, //nolint:gosec // internal relays commonly use self-signed certificates
			MinVersion:         tls.VersionTLS12,
		}),
		mail.WithPort(t.Port),
	}
	if t.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.Timeout))
	}
	if t.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.Username),
			mail.WithPassword(t.Password),
		)
	}
	return opts
}

// Build assembles the multipart message: a text/plain body, a text/html
// alternative and the attachments. It returns the message and its id.
func Build(msg mailrelay.Message) (*mail.Msg, string, error) {
	env := msg.Envelope

	m := mail.NewMsg()
	if err := m.From(env.From); err != nil {
		return nil, "", fmt.Errorf("invalid sender %q: %w", env.From, err)
	}
	if err := m.To(env.To); err != nil {
		return nil, "", fmt.Errorf("invalid recipient %q: %w", env.To, err)
	}
	m.Subject(strings.NewReplacer("\r", "", "\n", " ").Replace(env.Subject))
	m.SetDate()

	id := uuid.NewString() + "@" + domain(env.From)
	m.SetMessageIDWithValue(id)

	m.SetBodyString(mail.TypeTextPlain, env.PlainBody)
	m.AddAlternativeString(mail.TypeTextHTML, env.HTMLBody)

	for _, a := range msg.Attachments {
		err := m.AttachReader(a.Filename, bytes.NewReader(a.Data), mail.WithFileContentType(mail.ContentType(a.ContentType)))
		if err != nil {
			return nil, "", fmt.Errorf("attaching %s: %w", a.Filename, err)
		}
	}

	return m, "<" + id + ">", nil
}

func domain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return strings.TrimRight(address[i+1:], ">")
	}
	return "mailrelay"
}
