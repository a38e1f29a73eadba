package gallery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"golang.org/x/net/html"

	"favmirror/pkg/config"
	errs "favmirror/pkg/errors"
	"favmirror/pkg/logger"
	"favmirror/pkg/retry"
)

// documentTypes are the content types a page may be parsed from
var documentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"application/xml":       true,
	"text/xml":              true,
	"image/svg+xml":         true,
}

// Client reads favorites, post pages and assets from the remote site
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    map[string]string
	transport  *retry.Transport
	extractor  Extractor
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExtractor replaces the HTMLExtractor
func WithExtractor(e Extractor) Option {
	return func(c *Client) { c.extractor = e }
}

// WithLogger sets the client logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a gallery client. Every request goes through tr.
func NewClient(cfg config.GalleryConfig, tr *retry.Transport, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gallery base URL %q", cfg.BaseURL)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		transport: tr,
		extractor: HTMLExtractor{},
		logger:    logger.GetLogger(),
	}
	if cfg.Cookie != "" {
		c.headers["Cookie"] = cfg.Cookie
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured site root
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// FetchListingPage fetches the favorites page of userID at offset pid
func (c *Client) FetchListingPage(ctx context.Context, userID, pid int) (*html.Node, error) {
	return c.fetchDocument(ctx, "GET favorites", ListingURL(c.baseURL, userID, pid))
}

// ListingIDs extracts post ids from a favorites page, newest first
func (c *Client) ListingIDs(doc *html.Node) ([]int, error) {
	return c.extractor.ListingIDs(doc)
}

// FetchListing fetches a favorites page and returns its post ids
func (c *Client) FetchListing(ctx context.Context, userID, pid int) ([]int, error) {
	doc, err := c.FetchListingPage(ctx, userID, pid)
	if err != nil {
		return nil, err
	}
	ids, err := c.ListingIDs(doc)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("listing page fetched", map[string]interface{}{
		"user_id": userID,
		"pid":     pid,
		"ids":     len(ids),
	})
	return ids, nil
}

// FetchDetail fetches a post page, its original image and its tags
func (c *Client) FetchDetail(ctx context.Context, postID int) (*Post, error) {
	pageURL := PostURL(c.baseURL, postID)
	doc, err := c.fetchDocument(ctx, "GET post", pageURL)
	if err != nil {
		return nil, err
	}

	href, err := c.extractor.OriginalImageURL(doc)
	if err != nil {
		return nil, fmt.Errorf("post #%d: %w", postID, err)
	}
	assetURL, err := resolve(pageURL, href)
	if err != nil {
		return nil, errs.ParseError(pageURL, "valid original image URL")
	}

	image, err := c.FetchAsset(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("post #%d: %w", postID, err)
	}

	tags := c.extractor.Tags(doc)
	c.logger.DebugWithFields("post fetched", map[string]interface{}{
		"post_id": postID,
		"bytes":   len(image.Data),
		"tags":    len(tags),
	})

	return &Post{ID: postID, Image: *image, Tags: tags}, nil
}

// FetchAsset downloads a binary file
func (c *Client) FetchAsset(ctx context.Context, assetURL string) (*Asset, error) {
	return retry.Execute(ctx, c.transport, "GET asset", func(ctx context.Context) (*Asset, error) {
		body, header, err := c.get(ctx, assetURL)
		if err != nil {
			return nil, err
		}

		name := ""
		if u, err := url.Parse(assetURL); err == nil {
			name = path.Base(u.Path)
		}
		return &Asset{
			Data:        body,
			ContentType: header.Get("Content-Type"),
			Filename:    name,
		}, nil
	})
}

// FavoritesCount returns how many favorites userID has, read from the
// profile page and corrected by FavoritesCountCorrection
func (c *Client) FavoritesCount(ctx context.Context, userID int) (int, error) {
	doc, err := c.fetchDocument(ctx, "GET profile", ProfileURL(c.baseURL, userID))
	if err != nil {
		return 0, err
	}
	shown, err := c.extractor.FavoritesCount(doc, userID)
	if err != nil {
		return 0, err
	}
	return shown + FavoritesCountCorrection, nil
}

// fetchDocument fetches and parses a page through the transport
func (c *Client) fetchDocument(ctx context.Context, name, pageURL string) (*html.Node, error) {
	return retry.Execute(ctx, c.transport, name, func(ctx context.Context) (*html.Node, error) {
		body, header, err := c.get(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		contentType := header.Get("Content-Type")
		if contentType == "" {
			return nil, errs.ParseError(pageURL, "Content-Type header")
		}
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !documentTypes[mediaType] {
			return nil, errs.New(errs.ErrorTypeParsing, 0, pageURL, "not a parseable document: "+contentType)
		}

		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeParsing, pageURL, err)
		}
		return doc, nil
	})
}

// get performs one GET and returns the body of a 200 response
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrorTypeUnknown, rawURL, err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		c.logger.WithError(err).WarnWithFields("HTTP request failed", map[string]interface{}{
			"url": rawURL,
		})
		return nil, nil, errs.Wrap(errs.ErrorTypeNetwork, rawURL, err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, req.Method, rawURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if statusErr := errs.FromStatus(rawURL, resp.StatusCode); statusErr != nil {
			return nil, nil, statusErr
		}
		// other 2xx codes carry no page
		return nil, nil, errs.New(errs.ErrorTypeUnexpectedResponse, resp.StatusCode, rawURL, "expected status 200")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrorTypeNetwork, rawURL, err)
	}
	return body, resp.Header, nil
}
