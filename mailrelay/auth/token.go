package auth

import (
	"errors"
	"net/http"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims is the claim set carried by identity tokens.
type Claims struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed identity tokens.
type TokenVerifier struct {
	Logger zerolog.Logger

	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier returns a verifier for tokens signed with secret.
func NewTokenVerifier(secret string, logger zerolog.Logger) *TokenVerifier {
	return &TokenVerifier{
		Logger: logger,
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{
				jwt.SigningMethodHS256.Alg(),
				jwt.SigningMethodHS384.Alg(),
				jwt.SigningMethodHS512.Alg(),
			}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify decodes and validates token. Every failure is reported as the
// same Unauthorized error; the cause is only logged.
func (v *TokenVerifier) Verify(token string) (mailrelay.Identity, error) {
	logger := v.Logger.With().Str("module", "token").Logger()

	identity, err := v.verify(token)
	if err != nil {
		logger.Info().Err(err).Msg("Identity token rejected")
		return mailrelay.Identity{}, &mailrelay.AuthError{Kind: mailrelay.Unauthorized, Cause: err}
	}

	logger.Info().
		Str("sub", identity.Subject).
		Str("role", identity.Role).
		Str("name", identity.Name).
		Str("email", identity.Email).
		Msg("Identity token authorized")
	return identity, nil
}

func (v *TokenVerifier) verify(token string) (mailrelay.Identity, error) {
	if len(v.secret) == 0 {
		return mailrelay.Identity{}, errNoSecret
	}
	if token == "" {
		return mailrelay.Identity{}, errors.New("no bearer token presented")
	}

	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return mailrelay.Identity{}, err
	}
	if !parsed.Valid {
		return mailrelay.Identity{}, jwt.ErrTokenSignatureInvalid
	}

	return mailrelay.Identity{
		Subject: claims.Subject,
		Role:    claims.Role,
		Name:    claims.Name,
		Email:   claims.Email,
	}, nil
}

// BearerToken extracts the token from an "Authorization: <scheme> <token>" header.
func BearerToken(r *http.Request) string {
	return headerValue(r)
}
