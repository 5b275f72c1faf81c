// Package scrape implements the Scraper of §4.7: extracting both followed
// links and inline page requisites (images, stylesheets, scripts) from a
// fetched document, tagged with their LinkType so the Processor can decide
// recursion depth and rewrite rules independently for each. Grounded on the
// teacher's parser/css.go link extraction, generalized to also emit inline
// resources and per-link encoding/type metadata instead of bare strings.
package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Link is one URL discovered on a page, either a followed link or an inline
// page requisite.
type Link struct {
	URL      string
	Inline   bool
	LinkType types.LinkType
}

// Scraper extracts outbound links and inline requisites from a fetched
// response.
type Scraper interface {
	Scrape(resp *types.Response) ([]Link, error)
}

// HTMLScraper is the default Scraper, using goquery over the response's
// parsed document.
type HTMLScraper struct {
	PageRequisites bool // also emit inline css/js/img resources
}

func NewHTMLScraper(pageRequisites bool) *HTMLScraper {
	return &HTMLScraper{PageRequisites: pageRequisites}
}

func (s *HTMLScraper) Scrape(resp *types.Response) ([]Link, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParserError{URL: resp.FinalURL, Err: err}
	}

	base, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, &types.ParserError{URL: resp.FinalURL, Err: err}
	}

	seen := make(map[string]struct{})
	var links []Link

	add := func(raw string, inline bool, linkType types.LinkType) {
		raw = strings.TrimSpace(raw)
		if raw == "" || hasIgnoredScheme(raw) {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" && resolved.Scheme != "ftp" {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		key := abs
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, Link{URL: abs, Inline: inline, LinkType: linkType})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		add(href, false, types.LinkTypeHTML)
	})

	if s.PageRequisites {
		doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
			src, _ := sel.Attr("src")
			add(src, true, types.LinkTypeNone)
		})
		doc.Find("link[rel=stylesheet][href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			add(href, true, types.LinkTypeCSS)
		})
		doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
			src, _ := sel.Attr("src")
			add(src, true, types.LinkTypeJavaScript)
		})
		doc.Find("link[rel=sitemap][href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			add(href, true, types.LinkTypeSitemap)
		})
	}

	return links, nil
}

func hasIgnoredScheme(href string) bool {
	for _, prefix := range []string{"#", "javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}
