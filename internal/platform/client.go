// Package platform implements the HTTP client the CLI uses to talk to a
// slipway server.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bufbuild/httplb"

	"github.com/slipway-dev/slipway/internal/api"
	"github.com/slipway-dev/slipway/internal/logstream"
)

// Doer abstracts the underlying HTTP client.  *httplb.Client satisfies this;
// tests substitute a fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// An APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsUnavailable reports whether err is a transient gateway error worth
// retrying.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the slipway server's JSON API.
type Client struct {
	doer  Doer
	base  string
	token string
}

// New returns a Client for the server at addr.  A bare host:port is dialed
// over plain HTTP.
func New(addr, token string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		doer:  httplb.NewClient(),
		base:  strings.TrimRight(base, "/"),
		token: token,
	}
}

// WithDoer overrides the underlying HTTP client.  Used by tests.
func (c *Client) WithDoer(d Doer) *Client {
	c.doer = d
	return c
}

// Close releases the client's connection pool.
func (c *Client) Close() error {
	if lb, ok := c.doer.(*httplb.Client); ok {
		return lb.Close()
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("unable to construct API request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes the request and decodes the JSON response into out (when out is
// non-nil).  Non-2xx responses become *APIError values.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach the slipway server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode the server response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body api.Error
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Message}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("unable to encode the request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// CreateApp registers a new app.
func (c *Client) CreateApp(ctx context.Context, name string) (api.App, error) {
	var app api.App
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/apps", api.CreateAppRequest{Name: name}, &app)
	return app, err
}

// GetApp fetches a single app by name.
func (c *Client) GetApp(ctx context.Context, name string) (api.App, error) {
	var app api.App
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(name), nil, &app)
	return app, err
}

// ListApps returns all apps matching the glob filter, following paging.
func (c *Client) ListApps(ctx context.Context, filter string) ([]api.App, error) {
	var (
		out       []api.App
		pageToken string
	)
	for {
		q := url.Values{}
		if filter != "" {
			q.Set("filter", filter)
		}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		var page api.AppList
		if err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Apps...)
		if pageToken = page.NextPageToken; pageToken == "" {
			return out, nil
		}
	}
}

// CreateRelease uploads a source archive as a new release of the app and
// blocks until the server finishes building it.
func (c *Client) CreateRelease(ctx context.Context, app, description, commit string, source io.Reader) (api.Release, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(api.ReleaseSourceField, "source.tar.gz")
	if err != nil {
		return api.Release{}, fmt.Errorf("unable to construct the release upload: %w", err)
	}
	if _, err := io.Copy(fw, source); err != nil {
		return api.Release{}, fmt.Errorf("unable to construct the release upload: %w", err)
	}
	if err := mw.WriteField(api.ReleaseDescriptionField, description); err != nil {
		return api.Release{}, fmt.Errorf("unable to construct the release upload: %w", err)
	}
	if err := mw.WriteField(api.ReleaseCommitField, commit); err != nil {
		return api.Release{}, fmt.Errorf("unable to construct the release upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return api.Release{}, fmt.Errorf("unable to construct the release upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/apps/"+url.PathEscape(app)+"/releases", &body)
	if err != nil {
		return api.Release{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var rel api.Release
	if err := c.do(req, &rel); err != nil {
		return api.Release{}, err
	}
	return rel, nil
}

// ListReleases returns up to count of the app's most recent releases.
func (c *Client) ListReleases(ctx context.Context, app string, count int) ([]api.Release, error) {
	q := url.Values{}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	var page api.ReleaseList
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(app)+"/releases?"+q.Encode(), nil, &page)
	return page.Releases, err
}

// GetConfigVars fetches the app's config vars.
func (c *Client) GetConfigVars(ctx context.Context, app string) (api.ConfigVars, error) {
	var vars api.ConfigVars
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(app)+"/config", nil, &vars)
	return vars, err
}

// SetConfigVars merges vars into the app's config.  Returns the full config
// after the update.
func (c *Client) SetConfigVars(ctx context.Context, app string, vars api.ConfigVars) (api.ConfigVars, error) {
	var out api.ConfigVars
	err := c.doJSON(ctx, http.MethodPatch, "/api/v1/apps/"+url.PathEscape(app)+"/config", vars, &out)
	return out, err
}

// UnsetConfigVars removes the named keys from the app's config.
func (c *Client) UnsetConfigVars(ctx context.Context, app string, keys ...string) (api.ConfigVars, error) {
	q := url.Values{}
	for _, k := range keys {
		q.Add("key", k)
	}
	var out api.ConfigVars
	err := c.doJSON(ctx, http.MethodDelete, "/api/v1/apps/"+url.PathEscape(app)+"/config?"+q.Encode(), nil, &out)
	return out, err
}

// Restart bounces the app's dynos from its latest deployed release.
func (c *Client) Restart(ctx context.Context, app string) (api.DynoList, error) {
	var out api.DynoList
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/apps/"+url.PathEscape(app)+"/restart", nil, &out)
	return out, err
}

// Dynos reports the app's running processes.
func (c *Client) Dynos(ctx context.Context, app string) (api.DynoList, error) {
	var out api.DynoList
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(app)+"/ps", nil, &out)
	return out, err
}

// Logs streams the app's log lines to fn.  With tail set, the call blocks
// until ctx is cancelled or the server closes the stream; otherwise it
// returns after the retained backlog is delivered.
func (c *Client) Logs(ctx context.Context, app string, lines int, tail bool, fn func(logstream.Line) error) error {
	q := url.Values{}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	if tail {
		q.Set("tail", "1")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(app)+"/logs?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach the slipway server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var line logstream.Line
		switch err := dec.Decode(&line); {
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("log stream interrupted: %w", err)
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}
