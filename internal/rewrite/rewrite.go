// Package rewrite injects a <base> element into relayed HTML so relative
// links and resources resolve against the original site.
//
// This is a single-pass text transformation, not a DOM parse. It does not
// rewrite absolute-path asset URLs or script-originated requests, and it is
// not robust against malformed markup. Running it twice inserts two <base>
// elements.
package rewrite

import (
	"bytes"
	"html"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// headOpenTag matches the first <head> or <head ...> opening tag. <header>
// does not match.
var headOpenTag = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)

// Document returns body with a base element injected when it is HTML, or body
// unchanged otherwise.
func Document(contentType string, body []byte, target *url.URL) []byte {
	if !IsHTML(contentType, body) {
		return body
	}
	return InjectBase(body, target)
}

// IsHTML reports whether a response is an HTML document. Without a
// Content-Type the body is sniffed.
func IsHTML(contentType string, body []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		return mimetype.Detect(body).Is("text/html")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// BaseHref returns the target URL with a trailing slash, so a page served
// from /page resolves siblings under /page/.
func BaseHref(target *url.URL) string {
	s := target.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// BaseTag returns the <base> element for target.
func BaseTag(target *url.URL) string {
	return `<base href="` + html.EscapeString(BaseHref(target)) + `">`
}

// InjectBase inserts the base element right after the first <head> opening
// tag, or prepends it when the document has none.
func InjectBase(body []byte, target *url.URL) []byte {
	tag := BaseTag(target)

	loc := headOpenTag.FindIndex(body)
	if loc == nil {
		out := make([]byte, 0, len(tag)+len(body))
		out = append(out, tag...)
		return append(out, body...)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag))
	buf.Write(body[:loc[1]])
	buf.WriteString(tag)
	buf.Write(body[loc[1]:])
	return buf.Bytes()
}
