// Package sanitize derives plain-text alternatives from HTML mail bodies.
package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy *bluemonday.Policy
	initOnce     sync.Once
)

// textEntities decodes the escapes bluemonday writes for text, except
// &lt; and &gt;, which stay encoded so no markup is reintroduced. Script
// and style bodies come through raw, so their brackets are encoded here.
var textEntities = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	"&amp;", "&",
	"&#39;", "'",
	"&#34;", `"`,
	"&#13;", "\r",
)

// PlainText strips every tag from s and keeps the inner text of every
// element, title, script and style included. Whitespace is left as tag
// removal produces it.
func PlainText(s string) string {
	initOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
		// no element is allowed, so this only lets script and style text through
		strictPolicy.AllowUnsafe(true)
		strictPolicy.AllowElementsContent(
			"frame", "frameset", "iframe", "noembed", "noframes", "noscript",
			"nostyle", "object", "script", "style", "title",
		)
	})
	return textEntities.Replace(strictPolicy.Sanitize(s))
}
