package search

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CleanSnippet reduces provider text to plain text. Brave wraps matches
// in <strong> and both backends may carry entities; the model does not
// need markup. Script and style content is dropped.
func CleanSnippet(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if a := z.Token().DataAtom; a == atom.Script || a == atom.Style {
				skip++
			}
		case html.EndTagToken:
			if a := z.Token().DataAtom; (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
