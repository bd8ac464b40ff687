// Package templates renders the HTML bodies of transactional mails.
package templates

import (
	_ "embed"
	"html/template"
	"strings"

	"github.com/Pandentia/mailrelay/mailrelay"
)

//go:embed order.html.tmpl
var orderTemplate string

// Renderer renders order confirmations. It is safe for concurrent use.
type Renderer struct {
	ShopName     string // signature line
	ImageBaseURL string // prefix for line item images

	order *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer(shopName, imageBaseURL string) (*Renderer, error) {
	tmpl, err := template.New("order").Parse(orderTemplate)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		ShopName:     shopName,
		ImageBaseURL: imageBaseURL,
		order:        tmpl,
	}, nil
}

// Render produces the order confirmation document. Line items appear in
// input order, one table row each. Interpolated values are HTML-escaped.
func (r *Renderer) Render(order Order) (string, error) {
	if order.Items == nil {
		return "", &mailrelay.TemplateError{Reason: "order items are absent"}
	}

	var b strings.Builder
	err := r.order.Execute(&b, struct {
		Order        Order
		ShopName     string
		ImageBaseURL string
	}{order, r.ShopName, r.ImageBaseURL})
	if err != nil {
		return "", &mailrelay.TemplateError{Reason: err.Error()}
	}
	return b.String(), nil
}
