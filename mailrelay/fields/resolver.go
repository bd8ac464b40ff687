// Package fields resolves the mail envelope of a request from the verified
// identity, the request payload and the configured defaults.
package fields

import (
	"encoding/json"
	"strings"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/mailrelay/auth"
	"github.com/Pandentia/mailrelay/mailrelay/sanitize"
	"github.com/Pandentia/mailrelay/mailrelay/templates"
	"github.com/rs/zerolog"
)

// Field names reported in MissingFieldError.
const (
	FieldTo        = "to"
	FieldFrom      = "from"
	FieldSubject   = "subject"
	FieldBody      = "body"
	FieldPDFBase64 = "pdfBase64"
)

// Request is the JSON body accepted by the send routes. Body is kept raw
// because order routes carry a structured payload in it.
type Request struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	PDFBase64 string          `json:"pdfBase64,omitempty"`
}

// Resolver computes envelopes.
type Resolver struct {
	DefaultFrom    string
	DefaultSubject string
	Renderer       *templates.Renderer
	Logger         zerolog.Logger
}

// Resolve builds the envelope for req under policy. Every missing field is
// reported in a single MissingFieldError. Order routes render their body
// from the order payload instead of relaying it.
func (r *Resolver) Resolve(policy mailrelay.Policy, ac auth.Context, req Request) (mailrelay.Envelope, error) {
	logger := r.Logger.With().Str("module", "resolver").Str("route", policy.Path).Logger()

	var env mailrelay.Envelope
	var missing []string

	// to
	switch policy.Recipient {
	case mailrelay.RecipientIdentity:
		if ac.Identity != nil {
			env.To = ac.Identity.Email
		}
	case mailrelay.RecipientCaller:
		env.To = req.To
	}
	if blank(env.To) {
		missing = append(missing, FieldTo)
	}

	// from
	env.From = r.DefaultFrom
	if policy.AllowSenderOverride && !blank(req.From) {
		env.From = req.From
	}
	if blank(env.From) {
		missing = append(missing, FieldFrom)
	}

	// subject
	env.Subject = req.Subject
	if blank(env.Subject) {
		env.Subject = r.DefaultSubject
	}
	if blank(env.Subject) {
		missing = append(missing, FieldSubject)
	}

	// body
	var html string
	switch policy.Body {
	case mailrelay.BodyOrder:
		if isNull(req.Body) {
			missing = append(missing, FieldBody)
		}
	default:
		html = bodyString(req.Body)
		if blank(html) {
			missing = append(missing, FieldBody)
		}
	}

	if policy.Body == mailrelay.BodyInvoice && blank(req.PDFBase64) {
		missing = append(missing, FieldPDFBase64)
	}

	if len(missing) > 0 {
		logger.Debug().Strs("missing", missing).Msg("Request is missing required fields")
		return mailrelay.Envelope{}, &mailrelay.MissingFieldError{Fields: missing}
	}

	if policy.Body == mailrelay.BodyOrder {
		rendered, err := r.renderOrder(ac, req.Body)
		if err != nil {
			logger.Err(err).Msg("Error rendering order confirmation")
			return mailrelay.Envelope{}, err
		}
		html = rendered
	}

	env.HTMLBody = html
	env.PlainBody = sanitize.PlainText(html)
	logger.Debug().Str("to", env.To).Str("from", env.From).Str("subject", env.Subject).Msg("Envelope resolved")
	return env, nil
}

func (r *Resolver) renderOrder(ac auth.Context, raw json.RawMessage) (string, error) {
	order, err := templates.DecodeOrder(raw)
	if err != nil {
		return "", err
	}
	if ac.Identity != nil && ac.Identity.Name != "" {
		order.CustomerName = templates.Value(ac.Identity.Name)
	}
	if r.Renderer == nil {
		return "", &mailrelay.TemplateError{Reason: "no renderer configured"}
	}
	return r.Renderer.Render(order)
}

// bodyString returns the body when it is a JSON string, and "" otherwise.
func bodyString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
