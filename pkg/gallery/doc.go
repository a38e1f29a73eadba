// Package gallery reads a user's favorites from the remote image site.
//
// The site has no API, so everything is scraped from HTML: favorites
// listing pages (50 thumbnails per page, addressed by a pid offset),
// post pages (original image link and tags) and the profile page
// (favorites counter). Parsing lives behind the Extractor interface;
// HTMLExtractor walks golang.org/x/net/html trees.
//
// All requests run through a retry.Transport so they share the
// process-wide backoff schedule. Missing markup yields a parsing error,
// which is never retried.
package gallery
