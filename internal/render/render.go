// Package render substitutes the fixed funnel placeholder vocabulary into a
// step's subject and body. It performs no I/O.
package render

import (
	"html"
	"regexp"
	"strings"
)

// Placeholders recognized in subjects and bodies. Double-brace spellings are
// listed first so they win over the single-brace form at the same position.
const (
	NameDouble    = "{{name}}"
	NameSingle    = "{name}"
	CTAURL        = "{{cta_url}}"
	CTATextDouble = "{{cta_text}}"
	CTATextSingle = "{cta_text}"
)

// Input is everything the renderer needs from a step and its recipient.
type Input struct {
	Subject  string
	Body     string // HTML
	Name     string
	CTAURL   string
	CTALabel string
}

// Output is a rendered message.
type Output struct {
	Subject string
	HTML    string
	Text    string
}

// Render performs one left-to-right pass per field. Unknown or malformed
// placeholders are left untouched.
func Render(in Input) Output {
	plain := replacer(in.Name, in.CTAURL, in.CTALabel)
	escaped := replacer(html.EscapeString(in.Name), html.EscapeString(in.CTAURL), html.EscapeString(in.CTALabel))

	body := escaped.Replace(in.Body)
	return Output{
		Subject: plain.Replace(in.Subject),
		HTML:    body,
		Text:    PlainText(body),
	}
}

func replacer(name, url, label string) *strings.Replacer {
	return strings.NewReplacer(
		NameDouble, name,
		NameSingle, name,
		CTAURL, url,
		CTATextDouble, label,
		CTATextSingle, label,
	)
}

var (
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/h[1-6]|/li|/tr)\s*/?>`)
	anchorTags = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*"([^"]*)"[^>]*>(.*?)</a>`)
	anyTag     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaces     = regexp.MustCompile(`[ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives a text/plain fallback from an HTML body.
func PlainText(body string) string {
	s := anchorTags.ReplaceAllString(body, "$2 ($1)")
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaces.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
