// Package scrape fetches the dealership inventory pages and normalizes them
// into listing records.
package scrape

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

var (
	listingPathRe = regexp.MustCompile(`(?i)-id\d+$`)
	stockRe       = regexp.MustCompile(`(?i)stockNumber\s*[:=]\s*['"]([A-Za-z0-9]+)['"]`)
	vinRe         = regexp.MustCompile(`(?i)\bvin\s*[:=]\s*['"]([A-HJ-NPR-Z0-9]{11,17})['"]`)
	priceRe       = regexp.MustCompile(`(?i)displayedPrice\s*[:=]\s*['"]([0-9]+(?:\.[0-9]+)?)['"]`)
	mileageRe     = regexp.MustCompile(`(?i)\bmileage\s*[:=]\s*['"]([0-9]+(?:\.[0-9]+)?)['"]`)
)

// ParseListingURLs extracts cleaned vehicle detail URLs from one inventory
// listing page. Only anchors under inventoryPath whose path ends in the
// site's "-id<digits>" suffix qualify. The result is deduplicated and
// sorted.
func ParseListingURLs(baseURL, inventoryPath string, body []byte) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	add := func(href string) {
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		full := base.ResolveReference(ref)
		path := strings.TrimSuffix(full.Path, "/")
		if !strings.HasPrefix(full.Path, inventoryPath) {
			return
		}
		if !listingPathRe.MatchString(path) {
			return
		}
		full.RawQuery = ""
		full.Fragment = ""
		seen[full.String()] = true
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err == nil {
		walk(doc, func(n *html.Node) {
			if n.Type == html.ElementNode && n.Data == "a" {
				add(attr(n, "href"))
			}
		})
	}

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ParseDetail extracts one listing record from a vehicle detail page. The
// stock number, VIN, price and mileage live in inline script blobs, so they
// are pulled from the raw HTML; the title and photos come from the DOM.
func ParseDetail(pageURL string, body []byte) (DetailPage, error) {
	raw := string(body)

	var d DetailPage
	d.URL = pageURL

	if m := stockRe.FindStringSubmatch(raw); m != nil {
		d.Stock = strings.ToUpper(m[1])
	}
	if m := vinRe.FindStringSubmatch(raw); m != nil {
		d.VIN = strings.ToUpper(m[1])
	}
	if m := priceRe.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			d.Price = domain.Money(int64(f))
		}
	}
	if m := mileageRe.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			d.MileageKM = int64(f)
		}
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return d, err
	}

	pu, _ := url.Parse(pageURL)
	seen := map[string]bool{}

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.Data {
		case "h1":
			if d.Title == "" {
				d.Title = strings.Join(strings.Fields(text(n)), " ")
			}
		case "img":
			src := attr(n, "data-src")
			if src == "" {
				src = attr(n, "src")
			}
			if src == "" {
				return
			}
			if pu != nil {
				if ref, err := url.Parse(src); err == nil {
					src = pu.ResolveReference(ref).String()
				}
			}
			if !isInventoryPhoto(src) || seen[src] {
				return
			}
			seen[src] = true
			d.Photos = append(d.Photos, src)
		}
	})

	return d, nil
}

// DetailPage is the raw parse result for one vehicle detail page, before
// validation into a domain.ListingRecord.
type DetailPage struct {
	URL       string
	Title     string
	Stock     string
	VIN       string
	Price     domain.Money
	MileageKM int64
	Photos    []string
}

// isInventoryPhoto keeps only full-size sm360 inventory CDN images,
// filtering out the tiny navigation thumbnails.
func isInventoryPhoto(src string) bool {
	low := strings.ToLower(src)
	return strings.Contains(low, "img.sm360.ca") &&
		strings.Contains(low, "/images/inventory/") &&
		!strings.Contains(low, "/ir/w75h23/")
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	})
	return b.String()
}
