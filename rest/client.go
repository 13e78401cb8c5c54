// Package rest is the HTTP transport for annotations: region and centroid
// queries, create/update/patch/delete, and the tile metadata and region
// rasters that back overlay elements.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/element"
	"github.com/gogpu/annot/fetch"
)

// TokenHeader carries the authentication token.
const TokenHeader = "Girder-Token"

// ErrStatus is matched by every StatusError.
var ErrStatus = errors.New("rest: unexpected response status")

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rest: %s %s: %d %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("rest: %s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Is reports ErrStatus as matching.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken authenticates every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithEndpoint sets the annotation resource path below the API root.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// Client talks to the annotation server. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	base     *url.URL
	endpoint string
	token    string
}

var _ fetch.Client = (*Client)(nil)

// NewClient creates a client for the API rooted at apiRoot
// (for example "https://example.org/api/v1").
func NewClient(apiRoot string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(apiRoot)
	if err != nil {
		return nil, fmt.Errorf("rest: api root: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("rest: api root %q is not an absolute URL", apiRoot)
	}
	c := &Client{
		http:     &http.Client{Timeout: 5 * time.Minute},
		base:     base,
		endpoint: annot.DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromConfig creates a client from the API root, endpoint and
// token of cfg.
func NewClientFromConfig(cfg annot.Config, opts ...ClientOption) (*Client, error) {
	base := []ClientOption{WithEndpoint(cfg.Endpoint), WithToken(cfg.Token)}
	return NewClient(cfg.APIRoot, append(base, opts...)...)
}

// Elements runs an element query. Elements are requested largest first so
// that a truncated response keeps the most visible ones.
func (c *Client) Elements(ctx context.Context, id string, q fetch.Query) (*annotation.Document, error) {
	params := url.Values{}
	if r := q.Region; r != nil {
		params.Set("left", formatFloat(r.Left))
		params.Set("top", formatFloat(r.Top))
		params.Set("right", formatFloat(r.Right))
		params.Set("bottom", formatFloat(r.Bottom))
	}
	if q.MaxDetails > 0 {
		params.Set("maxDetails", strconv.Itoa(q.MaxDetails))
	}
	params.Set("sort", "size")
	params.Set("sortdir", "-1")

	var doc annotation.Document
	if err := c.doJSON(ctx, http.MethodGet, c.annotationURL(id, params), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Centroids fetches the raw centroid summary.
func (c *Client) Centroids(ctx context.Context, id string, limit int) ([]byte, error) {
	params := url.Values{}
	params.Set("centroids", "true")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "size")
	params.Set("sortdir", "-1")

	resp, err := c.do(ctx, http.MethodGet, c.annotationURL(id, params), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read centroids: %w", err)
	}
	return buf, nil
}

// Get fetches a whole annotation without element cap.
func (c *Client) Get(ctx context.Context, id string) (*annotation.Document, error) {
	var doc annotation.Document
	if err := c.doJSON(ctx, http.MethodGet, c.annotationURL(id, nil), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create creates an annotation on an item.
func (c *Client) Create(ctx context.Context, itemID string, body annotation.Body) (*annotation.Document, error) {
	params := url.Values{}
	params.Set("itemId", itemID)
	var doc annotation.Document
	if err := c.doJSON(ctx, http.MethodPost, c.annotationURL("", params), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update replaces the attributes of an annotation, and its elements when
// body carries them.
func (c *Client) Update(ctx context.Context, id string, body annotation.Body) (*annotation.Document, error) {
	var doc annotation.Document
	if err := c.doJSON(ctx, http.MethodPut, c.annotationURL(id, nil), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Patch applies element changes to a versioned annotation.
func (c *Client) Patch(ctx context.Context, id string, changes []element.ChangeEntry) (*annotation.Document, error) {
	var doc annotation.Document
	if err := c.doJSON(ctx, http.MethodPatch, c.annotationURL(id, nil), changes, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete deletes an annotation.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.annotationURL(id, nil), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) annotationURL(id string, params url.Values) string {
	return c.resourceURL(params, c.endpoint, id)
}

func (c *Client) resourceURL(params url.Values, elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}
	u := c.base.JoinPath(parts...)
	u.RawQuery = params.Encode()
	return u.String()
}

// doJSON sends in as the JSON body (if not nil) and decodes the response
// into out.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rest: encode %s body: %w", method, err)
		}
		body = bytes.NewReader(buf)
	}
	resp, err := c.do(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, rawURL, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into a StatusError.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("rest: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", method, rawURL, err)
	}
	annot.Logger().Debug("rest: request",
		"method", method, "url", rawURL, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(method, rawURL, resp)
	}
	return resp, nil
}

func statusError(method, rawURL string, resp *http.Response) error {
	se := &StatusError{Method: method, URL: rawURL, Code: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
	}
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(buf, &payload) == nil {
		se.Message = payload.Message
	}
	return se
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
