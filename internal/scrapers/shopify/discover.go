package shopify

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listHandlesHTML collects product handles from the links on the
// /collections/all pages, it stops at the first page without new handles.
func (c *Client) listHandlesHTML(ctx context.Context, t target) ([]string, error) {
	endpoint := t.base.JoinPath("collections", "all").String()

	seen := map[string]struct{}{}
	var handles []string
	for page := 1; page <= c.options.MaxPages; page++ {
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("page", fmt.Sprint(page)).
			Get(endpoint)
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, fmt.Errorf("get %s: status %d", endpoint, res.StatusCode())
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			return nil, fmt.Errorf("parse %s page %d: %w", endpoint, page, err)
		}

		found := 0
		for _, handle := range handlesFromDocument(doc) {
			if _, ok := seen[handle]; ok {
				continue
			}
			seen[handle] = struct{}{}
			handles = append(handles, handle)
			found++
		}
		if found == 0 {
			break
		}
	}
	return handles, nil
}

func handlesFromDocument(doc *goquery.Document) []string {
	var out []string
	doc.Find(`a[href*="/products/"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if handle := handleFromHref(href); handle != "" {
			out = append(out, handle)
		}
	})
	return out
}

func handleFromHref(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "products" && i+1 < len(segments) {
			return productLink(segments[i+1])
		}
	}
	return ""
}
