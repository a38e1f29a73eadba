package gallery

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// IndexPath is the single entry point of the site
	IndexPath = "index.php"

	// ListingPageSize is the number of favorites shown per listing page
	ListingPageSize = 50

	// FavoritesCountCorrection is added to the number shown on the
	// profile page, which renders one less than the real count.
	FavoritesCountCorrection = 1
)

func indexURL(base *url.URL, params url.Values) string {
	u := base.JoinPath(IndexPath)
	u.RawQuery = params.Encode()
	return u.String()
}

// ListingURL is the favorites page of userID starting at offset pid
func ListingURL(base *url.URL, userID, pid int) string {
	return indexURL(base, url.Values{
		"page": {"favorites"},
		"s":    {"view"},
		"id":   {strconv.Itoa(userID)},
		"pid":  {strconv.Itoa(pid)},
	})
}

// PostURL is the detail page of a post
func PostURL(base *url.URL, postID int) string {
	return indexURL(base, url.Values{
		"page": {"post"},
		"s":    {"view"},
		"id":   {strconv.Itoa(postID)},
	})
}

// ProfileURL is the account page of userID
func ProfileURL(base *url.URL, userID int) string {
	return indexURL(base, url.Values{
		"page": {"account"},
		"s":    {"profile"},
		"id":   {strconv.Itoa(userID)},
	})
}

// FavoritesHref is the exact relative link the profile page uses for
// the favorites counter
func FavoritesHref(userID int) string {
	return fmt.Sprintf("index.php?page=favorites&s=view&id=%d", userID)
}

// resolve turns an href found on page into an absolute URL
func resolve(page, href string) (string, error) {
	p, err := url.Parse(page)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return p.ResolveReference(ref).String(), nil
}
