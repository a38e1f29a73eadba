package gallery

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	errs "favmirror/pkg/errors"
)

// Extractor pulls structured data out of parsed site pages
type Extractor interface {
	// ListingIDs returns the post ids of a favorites page in listing order
	ListingIDs(doc *html.Node) ([]int, error)
	// OriginalImageURL returns the href of the full size asset on a post page
	OriginalImageURL(doc *html.Node) (string, error)
	// Tags returns the valid, name-deduplicated tags of a post page
	Tags(doc *html.Node) []Tag
	// FavoritesCount returns the raw counter shown on a profile page
	FavoritesCount(doc *html.Node, userID int) (int, error)
}

const (
	tagKindClassPrefix = "tag-type-"
	tagSearchHref      = "index.php?page=post&s=list&tags"
	originalImageLabel = "Original image"
)

// HTMLExtractor reads the markup the site currently serves
type HTMLExtractor struct{}

// ListingIDs reads the thumbnails, anchors directly under ".thumb" whose
// id is a one character marker followed by the post id.
func (HTMLExtractor) ListingIDs(doc *html.Node) ([]int, error) {
	var ids []int
	for _, thumb := range findAll(doc, hasClass("thumb")) {
		for c := thumb.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || c.DataAtom != atom.A {
				continue
			}
			raw := attr(c, "id")
			if raw == "" {
				// action links such as "Remove" carry no id
				continue
			}
			if len(raw) < 2 {
				return nil, errs.ParseError("favorites listing", "post id on thumbnail anchor")
			}
			id, err := strconv.Atoi(raw[1:])
			if err != nil {
				return nil, errs.ParseError("favorites listing", "numeric post id in "+strconv.Quote(raw))
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// OriginalImageURL finds the "Original image" entry of the link list
func (HTMLExtractor) OriginalImageURL(doc *html.Node) (string, error) {
	list := findFirst(doc, hasClass("link-list"))
	if list == nil {
		return "", errs.ParseError("post page", "link list")
	}

	for _, li := range findAll(list, isElement(atom.Li)) {
		for _, a := range findAll(li, isElement(atom.A)) {
			if strings.TrimSpace(textContent(a)) != originalImageLabel {
				continue
			}
			if href := attr(a, "href"); href != "" {
				return href, nil
			}
		}
	}
	return "", errs.ParseError("post page", "original image link")
}

// Tags reads ".tag" elements. The name is the text of the tag search
// link with spaces replaced by underscores, the kind comes from the
// tag-type-* class. Unknown kinds and empty names are dropped and the
// first occurrence of a name wins.
func (HTMLExtractor) Tags(doc *html.Node) []Tag {
	var tags []Tag
	seen := make(map[string]bool)

	for _, el := range findAll(doc, hasClass("tag")) {
		link := findFirst(el, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.DataAtom == atom.A &&
				strings.Contains(attr(n, "href"), tagSearchHref)
		})
		if link == nil {
			continue
		}

		name := strings.ReplaceAll(strings.TrimSpace(textContent(link)), " ", "_")
		kind := TagKind("")
		for _, class := range classes(el) {
			if strings.HasPrefix(class, tagKindClassPrefix) {
				kind = TagKind(strings.TrimPrefix(class, tagKindClassPrefix))
				break
			}
		}

		if name == "" || !kind.Valid() || seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, Tag{Name: name, Kind: kind})
	}
	return tags
}

// FavoritesCount reads the number linked to the user's favorites page
func (HTMLExtractor) FavoritesCount(doc *html.Node, userID int) (int, error) {
	href := FavoritesHref(userID)
	link := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.A && attr(n, "href") == href
	})
	if link == nil {
		return 0, errs.ParseError("profile page", "favorites link for user "+strconv.Itoa(userID))
	}

	count, ok := leadingInt(textContent(link))
	if !ok {
		return 0, errs.ParseError("profile page", "numeric favorites count")
	}
	return count, nil
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	}
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range classes(n) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// leadingInt parses the digits at the start of s after leading space,
// ignoring whatever follows them ("1,234" yields 1).
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
