package fields_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/mailrelay/auth"
	"github.com/Pandentia/mailrelay/mailrelay/fields"
	"github.com/Pandentia/mailrelay/mailrelay/templates"
)

var identity = &mailrelay.Identity{Subject: "1", Role: "customer", Name: "Alice", Email: "alice@example.com"}

func newResolver(t *testing.T, from, subject string) *fields.Resolver {
	t.Helper()
	renderer, err := templates.NewRenderer("Beercraft", "")
	require.NoError(t, err)
	return &fields.Resolver{
		DefaultFrom:    from,
		DefaultSubject: subject,
		Renderer:       renderer,
		Logger:         zerolog.Nop(),
	}
}

func body(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func missingFields(t *testing.T, err error) []string {
	t.Helper()
	var missing *mailrelay.MissingFieldError
	require.True(t, errors.As(err, &missing), "expected MissingFieldError, got %v", err)
	return missing.Fields
}

func TestResolveCallerRecipient(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Default")
	policies := mailrelay.DefaultPolicies(nil)

	env, err := r.Resolve(policies[mailrelay.RouteNewsletter], auth.Context{}, fields.Request{
		To:      "a@b.com",
		Subject: "Hi",
		Body:    body("<p>x</p>"),
	})
	require.NoError(t, err)
	assert.Equal(t, mailrelay.Envelope{
		From:      "noreply@shop.example",
		To:        "a@b.com",
		Subject:   "Hi",
		HTMLBody:  "<p>x</p>",
		PlainBody: "x",
	}, env)
}

func TestResolveIdentityRecipientIgnoresCallerTo(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Default")
	policies := mailrelay.DefaultPolicies(nil)

	env, err := r.Resolve(policies[mailrelay.RouteShipping], auth.Context{Identity: identity}, fields.Request{
		To:   "attacker@example.com",
		Body: body("<p>Shipped</p>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", env.To)
	assert.Equal(t, "Default", env.Subject)
}

func TestResolveIdentityRouteWithoutIdentity(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Default")
	policies := mailrelay.DefaultPolicies(nil)

	_, err := r.Resolve(policies[mailrelay.RouteShipping], auth.Context{}, fields.Request{
		To:   "caller@example.com",
		Body: body("<p>Shipped</p>"),
	})
	assert.Equal(t, []string{fields.FieldTo}, missingFields(t, err))
}

func TestResolveSender(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Default")
	policies := mailrelay.DefaultPolicies(nil)
	req := fields.Request{From: "sales@shop.example", Body: body("<p>x</p>")}

	env, err := r.Resolve(policies[mailrelay.RouteMail], auth.Context{Identity: identity}, req)
	require.NoError(t, err)
	assert.Equal(t, "sales@shop.example", env.From)

	env, err = r.Resolve(policies[mailrelay.RouteShipping], auth.Context{Identity: identity}, req)
	require.NoError(t, err)
	assert.Equal(t, "noreply@shop.example", env.From)
}

func TestResolveReportsEveryMissingField(t *testing.T) {
	r := newResolver(t, "", "")
	policies := mailrelay.DefaultPolicies(nil)

	_, err := r.Resolve(policies[mailrelay.RouteNewsletter], auth.Context{}, fields.Request{})
	assert.Equal(t, []string{"to", "from", "subject", "body"}, missingFields(t, err))
	assert.EqualError(t, err, "Missing required variable: to, from, subject, body.")
	assert.ErrorIs(t, err, mailrelay.ErrMissingField)

	_, err = r.Resolve(policies[mailrelay.RouteInvoicing], auth.Context{Identity: identity}, fields.Request{Subject: "Invoice 1"})
	assert.Equal(t, []string{"from", "body", "pdfBase64"}, missingFields(t, err))
}

func TestResolveRejectsNonStringBody(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Default")
	policies := mailrelay.DefaultPolicies(nil)

	for _, raw := range []string{`null`, `42`, `{"a":1}`, `"   "`} {
		_, err := r.Resolve(policies[mailrelay.RouteNewsletter], auth.Context{}, fields.Request{To: "a@b.com", Body: json.RawMessage(raw)})
		assert.Equal(t, []string{"body"}, missingFields(t, err), raw)
	}
}

func TestResolveOrder(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Orderbekräftelse")
	policies := mailrelay.DefaultPolicies(nil)

	payload := `[{"orderId": 5, "customer_name": "Ignored", "orderItems": [
		{"product_name": "Lager", "quantity": 1},
		{"product_name": "Porter", "quantity": 3}
	]}]`
	env, err := r.Resolve(policies[mailrelay.RouteOrder], auth.Context{Identity: identity}, fields.Request{
		Body: json.RawMessage(payload),
	})
	require.NoError(t, err)
	assert.Equal(t, "Orderbekräftelse", env.Subject)
	assert.Equal(t, 2, strings.Count(env.HTMLBody, "<tr>"))
	assert.Contains(t, env.HTMLBody, "Hej Alice,")
	assert.NotContains(t, env.PlainBody, "<")
	assert.Contains(t, env.PlainBody, "Porter")
}

func TestResolveOpenOrderUsesPayloadCustomer(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Order")
	policies := mailrelay.DefaultPolicies([]string{mailrelay.RouteOrder})

	env, err := r.Resolve(policies[mailrelay.RouteOrder], auth.Context{}, fields.Request{
		To:   "bob@example.com",
		Body: json.RawMessage(`{"customer_name": "Bob", "orderItems": []}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", env.To)
	assert.Contains(t, env.HTMLBody, "Hej Bob,")
}

func TestResolveMalformedOrder(t *testing.T) {
	r := newResolver(t, "noreply@shop.example", "Order")
	policies := mailrelay.DefaultPolicies(nil)

	_, err := r.Resolve(policies[mailrelay.RouteOrder], auth.Context{Identity: identity}, fields.Request{
		Body: json.RawMessage(`[{"orderId": 1}]`),
	})
	assert.ErrorIs(t, err, mailrelay.ErrMalformedPayload)

	_, err = r.Resolve(policies[mailrelay.RouteOrder], auth.Context{Identity: identity}, fields.Request{})
	assert.Equal(t, []string{"body"}, missingFields(t, err))
}
