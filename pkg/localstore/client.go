package localstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"favmirror/pkg/config"
	errs "favmirror/pkg/errors"
	"favmirror/pkg/gallery"
	"favmirror/pkg/logger"
	"favmirror/pkg/retry"
)

// Client talks to the local mirror server
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	transport  *retry.Transport
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a store client. Count and CheckExisting go through
// tr, Upload is attempted once.
func NewClient(cfg config.StoreConfig, tr *retry.Transport, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid store URL %q", cfg.URL)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		transport:  tr,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type countResponse struct {
	Count *int `json:"count"`
}

type checkRequest struct {
	PostIDs []int `json:"postIds"`
}

type checkResponse struct {
	PostIDs *[]int `json:"postIds"`
}

// Count returns how many posts the store holds
func (c *Client) Count(ctx context.Context) (int, error) {
	endpoint := c.endpoint("count")

	return retry.Execute(ctx, c.transport, "GET count", func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeUnknown, endpoint, err)
		}

		var resp countResponse
		if err := c.doJSON(req, &resp); err != nil {
			return 0, err
		}
		if resp.Count == nil {
			return 0, errs.UnexpectedResponse(endpoint, `missing "count"`)
		}
		return *resp.Count, nil
	})
}

// CheckExisting returns the subset of ids the store already holds
func (c *Client) CheckExisting(ctx context.Context, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return []int{}, nil
	}

	endpoint := c.endpoint("check")
	payload, err := json.Marshal(checkRequest{PostIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode check request: %w", err)
	}

	return retry.Execute(ctx, c.transport, "POST check", func(ctx context.Context) ([]int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeUnknown, endpoint, err)
		}
		req.Header.Set("Content-Type", "application/json")

		var resp checkResponse
		if err := c.doJSON(req, &resp); err != nil {
			return nil, err
		}
		if resp.PostIDs == nil {
			return nil, errs.UnexpectedResponse(endpoint, `missing "postIds"`)
		}
		return *resp.PostIDs, nil
	})
}

// Missing returns the ids the store does not hold, in the given order
func (c *Client) Missing(ctx context.Context, ids []int) ([]int, error) {
	stored, err := c.CheckExisting(ctx, ids)
	if err != nil {
		return nil, err
	}

	have := make(map[int]bool, len(stored))
	for _, id := range stored {
		have[id] = true
	}
	missing := make([]int, 0, len(ids))
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Upload sends a post as multipart form data. Anything but 200 is an
// upload_rejected error.
func (c *Client) Upload(ctx context.Context, post *gallery.Post) error {
	endpoint := c.endpoint("upload")

	body, contentType, err := encodeUpload(post)
	if err != nil {
		return fmt.Errorf("failed to encode post #%d: %w", post.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.ErrorTypeNetwork, fmt.Sprintf("upload post #%d", post.ID), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	logger.LogRequest(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return errs.UploadRejected(post.ID, resp.StatusCode)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload builds the id, image and tags parts
func encodeUpload(post *gallery.Post) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("id", strconv.Itoa(post.ID)); err != nil {
		return nil, "", err
	}

	filename := post.Image.Filename
	if filename == "" {
		filename = "blob"
	}
	contentType := post.Image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(post.Image.Data); err != nil {
		return nil, "", err
	}

	tags := post.Tags
	if tags == nil {
		tags = []gallery.Tag{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("tags", string(tagsJSON)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// doJSON performs req and decodes a 200 JSON body into target
func (c *Client) doJSON(req *http.Request, target interface{}) error {
	endpoint := req.URL.String()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return errs.Wrap(errs.ErrorTypeNetwork, endpoint, err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if statusErr := errs.FromStatus(endpoint, resp.StatusCode); statusErr != nil {
			return statusErr
		}
		return errs.New(errs.ErrorTypeUnexpectedResponse, resp.StatusCode, endpoint, "expected status 200")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, endpoint, err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          endpoint,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.UnexpectedResponse(endpoint, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func (c *Client) endpoint(name string) string {
	return c.baseURL.JoinPath(name).String()
}
