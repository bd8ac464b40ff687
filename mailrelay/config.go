package mailrelay

import (
	"errors"
	"net/http"
	"time"
)

// Transport names accepted by Config.Transport.
const (
	TransportSMTP = "smtp"
	TransportAMQP = "amqp"
)

// Config holds the process configuration. It is loaded once at startup and
// never modified afterwards.
type Config struct {
	Bind string // address the HTTP API listens on

	Transport        string        // "smtp" or "amqp"
	TransportTimeout time.Duration // upper bound for a single transport call

	MailHost      string
	MailPort      int
	MailUsername  string
	MailPassword  string
	MailTLSVerify bool

	AMQPURI string

	DefaultFrom    string
	DefaultSubject string

	APIKey    string // shared credential for key-gated routes
	JWTSecret string // HMAC key for identity tokens

	OpenRoutes []string // token-gated routes downgraded to open, caller-supplied recipient

	ShopName     string // signature on order confirmations
	ImageBaseURL string // prefix for line item image references

	TransportFailureStatus int // HTTP status returned when the transport fails
}

// Validate checks the configuration for missing or inconsistent values.
func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportSMTP:
		if c.MailHost == "" {
			errs = append(errs, errors.New("mail host is required for the smtp transport"))
		}
		if c.MailPort <= 0 || c.MailPort > 65535 {
			errs = append(errs, errors.New("mail port must be between 1 and 65535"))
		}
	case TransportAMQP:
		if c.AMQPURI == "" {
			errs = append(errs, errors.New("amqp uri is required for the amqp transport"))
		}
	default:
		errs = append(errs, errors.New("unknown transport "+c.Transport))
	}

	if c.TransportFailureStatus < 400 || c.TransportFailureStatus > 599 || http.StatusText(c.TransportFailureStatus) == "" {
		errs = append(errs, errors.New("transport failure status must be a 4xx or 5xx status code"))
	}

	return errors.Join(errs...)
}
