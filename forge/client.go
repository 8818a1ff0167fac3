// Package forge talks to the GitHub REST v3 API: creating releases, labeling
// issues, and listing the closed issues and merged pull requests the
// changelog is generated from.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/internal/httpclient"
)

const requestTimeout = 30 * time.Second

// Client is a minimal GitHub REST v3 client scoped to one repository.
type Client struct {
	baseURL string
	owner   string
	repo    string
	token   string
	http    *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates a client for owner/repo. requestsPerMinute bounds the
// request rate; GitHub throttles hard at the secondary rate limit otherwise.
func NewClient(baseURL, owner, repo, token string, requestsPerMinute int, logger *zap.SugaredLogger) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
		repo:    repo,
		token:   token,
		http:    httpclient.New(requestTimeout, httpclient.Options{}),
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		logger:  logger,
	}
}

// WithHTTPClient swaps the underlying HTTP client. Tests use this with
// httpclient.WrapClient to target an httptest server.
func (c *Client) WithHTTPClient(client *httpclient.SaferClient) *Client {
	c.http = client
	return c
}

// repoPath builds an API path under /repos/{owner}/{repo}.
func (c *Client) repoPath(format string, args ...interface{}) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// do executes one API call. A non-2xx status becomes an ErrRemoteOperation;
// 404 is surfaced as ErrNotFound so callers can implement create-if-absent.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait")
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debugw("API request", "method", method, "path", path)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapRemote(err, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(errNotFound, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.WrapRemote(
			errors.Newf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail))),
			"api call failed")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "failed to decode response for %s %s", method, path)
		}
	}
	return nil
}

// errNotFound marks 404 responses internally.
var errNotFound = errors.New("resource not found")

// IsNotFound reports whether an error came from a 404 API response.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, errNotFound)
}
