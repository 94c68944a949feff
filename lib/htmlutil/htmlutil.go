package htmlutil

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`[\s\p{Z}\x{0085}]+`)
)

// Normalize turns an HTML fragment into a single line of plain text.
// Entities are decoded before tags are removed, so escaped markup is dropped as well.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(raw)
	text = tagRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var converter = md.NewConverter("", true, nil)

// RenderMarkdown renders an HTML fragment as markdown, keeping images and tables
// that Normalize throws away.
func RenderMarkdown(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(converter.Convert(doc.Selection)), nil
}

// ImageSources lists the src attribute of every <img> in an HTML fragment.
func ImageSources(raw string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src := s.AttrOr("src", ""); src != "" {
			out = append(out, src)
		}
	})
	return out
}
