package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/rs/zerolog"
)

// APIKeyQueryParam is the query parameter checked when no Authorization header is present.
const APIKeyQueryParam = "api_key"

var (
	errNoCredential  = errors.New("no credential presented")
	errBadCredential = errors.New("credential mismatch")
	errNoSecret      = errors.New("no shared secret configured")
)

// APIKeyVerifier checks a static shared credential.
type APIKeyVerifier struct {
	Secret string
	Logger zerolog.Logger
}

// Verify compares the presented credential with the configured secret.
func (v *APIKeyVerifier) Verify(presented string) error {
	logger := v.Logger.With().Str("module", "apikey").Logger()

	var err error
	switch {
	case v.Secret == "":
		err = errNoSecret
	case presented == "":
		err = errNoCredential
	case subtle.ConstantTimeCompare([]byte(presented), []byte(v.Secret)) != 1:
		err = errBadCredential
	}
	if err != nil {
		logger.Info().Bool("presented", presented != "").Msg("API key rejected")
		return &mailrelay.AuthError{Kind: mailrelay.Forbidden, Cause: err}
	}

	logger.Debug().Msg("API key accepted")
	return nil
}

// Credential extracts the shared credential from the Authorization header
// ("<scheme> <value>"), falling back to the api_key query parameter.
func Credential(r *http.Request) string {
	if value := headerValue(r); value != "" {
		return value
	}
	return r.URL.Query().Get(APIKeyQueryParam)
}

// headerValue returns the second word of the Authorization header.
func headerValue(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
