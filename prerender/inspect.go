package prerender

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Summary describes a captured snapshot.
type Summary struct {
	Title     string
	RootEmpty bool // The root mount element rendered no content
}

// Inspect parses captured markup and reports its title and whether the root
// mount element is empty.
func Inspect(markup, rootSelector string) (Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Summary{}, fmt.Errorf("parse snapshot: %w", err)
	}

	root := doc.Find(rootSelector).First()
	return Summary{
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		RootEmpty: root.Length() == 0 || blank(root.Get(0)),
	}, nil
}

// blank reports whether n has no element children and no visible text.
// Comments left behind by the client framework do not count.
func blank(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		}
	}
	return true
}
