package auth

import (
	"fmt"
	"net/http"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/rs/zerolog"
)

// Context carries the outcome of a successful authorization forward.
// Identity is nil unless the route is gated by an identity token.
type Context struct {
	Verifier mailrelay.Verifier
	Identity *mailrelay.Identity
}

// Authorizer runs the verifier selected by a route's policy.
type Authorizer struct {
	Keys   *APIKeyVerifier
	Tokens *TokenVerifier
	Logger zerolog.Logger
}

// Authorize runs exactly one verifier for the policy. A failure is final;
// no other verifier is tried.
func (a *Authorizer) Authorize(policy mailrelay.Policy, r *http.Request) (Context, error) {
	logger := a.Logger.With().Str("module", "authorizer").Str("route", policy.Path).Logger()
	logger.Debug().Stringer("verifier", policy.Verifier).Msg("Authorizing request")

	ctx := Context{Verifier: policy.Verifier}

	switch policy.Verifier {
	case mailrelay.VerifyNone:
		return ctx, nil
	case mailrelay.VerifyAPIKey:
		if err := a.Keys.Verify(Credential(r)); err != nil {
			return Context{}, err
		}
		return ctx, nil
	case mailrelay.VerifyIdentity:
		identity, err := a.Tokens.Verify(BearerToken(r))
		if err != nil {
			return Context{}, err
		}
		ctx.Identity = &identity
		return ctx, nil
	}

	// an unknown verifier fails closed
	return Context{}, &mailrelay.AuthError{
		Kind:  mailrelay.Forbidden,
		Cause: fmt.Errorf("unknown verifier %d", policy.Verifier),
	}
}
