package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/mirrorctl/mirrorctl/internal/config"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// htmlTree re-parses the response body as a plain *html.Node tree for XPath
// rules; kept separate from the goquery document since htmlquery operates
// on golang.org/x/net/html nodes directly.
func htmlTree(resp *types.Response) (*html.Node, error) {
	resp.Body.Rewind()
	defer resp.Body.Rewind()
	return html.Parse(resp.Body)
}

// Extractor runs the optional structured-metadata extraction pass
// alongside link discovery, applying each configured rule by CSS or XPath
// selector into an Item. Grounded on the teacher's parser/css.go and
// parser/xpath.go rule engines, merged into one extractor since both
// selector kinds populate the same Item.
type Extractor struct {
	rules []config.ParseRule
}

func NewExtractor(rules []config.ParseRule) *Extractor { return &Extractor{rules: rules} }

func (e *Extractor) Extract(resp *types.Response) (*types.Item, error) {
	if len(e.rules) == 0 {
		return nil, nil
	}

	needsCSS, needsXPath := false, false
	for _, rule := range e.rules {
		if rule.Type == "xpath" {
			needsXPath = true
		} else {
			needsCSS = true
		}
	}

	var doc *goquery.Document
	var tree *html.Node
	var err error
	if needsCSS {
		doc, err = resp.Document()
		if err != nil {
			return nil, &types.ParserError{URL: resp.FinalURL, Err: err}
		}
	}
	if needsXPath {
		tree, err = htmlTree(resp)
		if err != nil {
			return nil, &types.ParserError{URL: resp.FinalURL, Err: err}
		}
	}

	item := types.NewItem(resp.FinalURL)
	for _, rule := range e.rules {
		var values []string
		switch rule.Type {
		case "xpath":
			values = extractXPath(tree, rule)
		default:
			values = extractCSS(doc, rule)
		}
		switch len(values) {
		case 0:
		case 1:
			item.Set(rule.Name, values[0])
		default:
			item.Set(rule.Name, values)
		}
	}
	if len(item.Fields) == 0 {
		return nil, nil
	}
	return item, nil
}

func extractCSS(doc *goquery.Document, rule config.ParseRule) []string {
	var values []string
	doc.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
		val := valueFromSelection(sel, rule.Attribute)
		if val != "" {
			values = append(values, val)
		}
	})
	return values
}

func valueFromSelection(sel *goquery.Selection, attribute string) string {
	switch attribute {
	case "", "text":
		return strings.TrimSpace(sel.Text())
	case "html", "innerHTML":
		v, _ := sel.Html()
		return v
	case "outerHTML":
		v, _ := goquery.OuterHtml(sel)
		return v
	default:
		v, _ := sel.Attr(attribute)
		return v
	}
}

func extractXPath(doc *html.Node, rule config.ParseRule) []string {
	if doc == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, rule.Selector)
	if err != nil {
		return nil
	}
	var values []string
	for _, node := range nodes {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html", "innerHTML":
			val = htmlquery.OutputHTML(node, false)
		case "outerHTML":
			val = htmlquery.OutputHTML(node, true)
		default:
			val = htmlquery.SelectAttr(node, rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	}
	return values
}
