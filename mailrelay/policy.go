package mailrelay

// Verifier selects which credential check gates a route.
type Verifier int

// Verifiers.
const (
	VerifyNone     Verifier = iota // open route
	VerifyAPIKey                   // static shared credential
	VerifyIdentity                 // signed identity token
)

func (v Verifier) String() string {
	switch v {
	case VerifyNone:
		return "none"
	case VerifyAPIKey:
		return "apiKey"
	case VerifyIdentity:
		return "identityToken"
	}
	return "unknown"
}

// RecipientSource selects where the "to" address comes from.
type RecipientSource int

// Recipient sources.
const (
	RecipientCaller   RecipientSource = iota // the request's "to" field
	RecipientIdentity                        // the identity token's email claim
)

// BodyKind describes how a route interprets the request body.
type BodyKind int

// Body kinds.
const (
	BodyHTML    BodyKind = iota // raw HTML string, relayed verbatim
	BodyOrder                   // order payload, expanded by the template renderer
	BodyInvoice                 // raw HTML string plus a base64 PDF attachment
)

// Policy is the static per-route authorization and resolution policy.
type Policy struct {
	Path                string
	Verifier            Verifier
	Recipient           RecipientSource
	AllowSenderOverride bool // caller may set "from"
	Body                BodyKind
	Noun                string // used in "<Noun> sent." responses
}

// Policies maps route paths to their policy.
type Policies map[string]Policy

// DefaultPolicies returns the route table of the relay. Paths listed in
// open are downgraded to unauthenticated routes whose recipient is
// supplied by the caller.
func DefaultPolicies(open []string) Policies {
	policies := Policies{
		RouteMail:       {Verifier: VerifyIdentity, Recipient: RecipientIdentity, AllowSenderOverride: true, Body: BodyHTML, Noun: "Mail"},
		RouteNewsletter: {Verifier: VerifyAPIKey, Recipient: RecipientCaller, Body: BodyHTML, Noun: "Newsletter"},
		RouteOrder:      {Verifier: VerifyIdentity, Recipient: RecipientIdentity, Body: BodyOrder, Noun: "Order confirmation"},
		RouteInvoicing:  {Verifier: VerifyIdentity, Recipient: RecipientIdentity, Body: BodyInvoice, Noun: "Invoice"},
		RouteShipping:   {Verifier: VerifyIdentity, Recipient: RecipientIdentity, Body: BodyHTML, Noun: "Shipping details"},
		RouteUser:       {Verifier: VerifyIdentity, Recipient: RecipientIdentity, Body: BodyHTML, Noun: "User info"},
	}
	for path, p := range policies {
		p.Path = path
		policies[path] = p
	}

	for _, path := range open {
		p, ok := policies[path]
		if !ok || p.Verifier != VerifyIdentity {
			// only token-gated routes can be opened
			continue
		}
		p.Verifier = VerifyNone
		p.Recipient = RecipientCaller
		policies[path] = p
	}

	return policies
}
