// Package dispatch hands resolved envelopes to the mail transport and
// classifies the outcome.
package dispatch

import (
	"context"
	"time"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/rs/zerolog"
)

// Transport delivers a message upstream and returns its message id.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, msg mailrelay.Message) (string, error)
}

// Dispatcher sends envelopes through a Transport.
type Dispatcher struct {
	Transport Transport
	Timeout   time.Duration // zero means no timeout beyond ctx
	Logger    zerolog.Logger
}

// Send delivers env with the given attachments. Transport failures are
// returned as *mailrelay.TransportError. There are no retries.
func (d *Dispatcher) Send(ctx context.Context, env mailrelay.Envelope, attachments ...mailrelay.Attachment) (string, error) {
	logger := d.Logger.With().Str("module", "dispatcher").Logger()

	if missing := incomplete(env); len(missing) > 0 {
		return "", &mailrelay.MissingFieldError{Fields: missing}
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	logger.Info().
		Str("to", env.To).
		Str("from", env.From).
		Str("subject", env.Subject).
		Int("attachments", len(attachments)).
		Msg("Sending mail")

	id, err := d.Transport.Send(ctx, mailrelay.Message{Envelope: env, Attachments: attachments})
	if err != nil {
		logger.Err(err).Str("to", env.To).Msg("Mail not sent")
		return "", &mailrelay.TransportError{Cause: err}
	}

	logger.Info().Str("message_id", id).Msg("Mail sent")
	return id, nil
}

func incomplete(env mailrelay.Envelope) []string {
	var missing []string
	if env.To == "" {
		missing = append(missing, "to")
	}
	if env.From == "" {
		missing = append(missing, "from")
	}
	if env.Subject == "" {
		missing = append(missing, "subject")
	}
	if env.HTMLBody == "" {
		missing = append(missing, "body")
	}
	return missing
}
