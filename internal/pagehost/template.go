package pagehost

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed page.md.tmpl
var pageTemplateText string

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateText))

// DefaultTitles are the decorative page headings.
var DefaultTitles = []string{
	"🌟 Mega Treasure Vault 🌟",
	"💎 Premium Content Hub 💎",
	"🔥 Ultimate Collection 🔥",
	"⚡ Lightning Fast Access ⚡",
	"🚀 Exclusive Content Zone 🚀",
}

// Promo is a labelled link rendered in the page footer.
type Promo struct {
	Label string
	URL   string
}

type pageData struct {
	Title  string
	Link   string
	Promos []Promo
}

// RenderPage renders the hosted document for link under title.
func RenderPage(title, link string, promos []Promo) (string, error) {
	var b strings.Builder
	if err := pageTemplate.Execute(&b, pageData{Title: title, Link: link, Promos: promos}); err != nil {
		return "", err
	}
	return b.String(), nil
}
