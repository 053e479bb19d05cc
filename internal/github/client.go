// Package github is a small GitHub REST client for locating and downloading
// workflow artifacts.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/branding"
)

const (
	// DefaultAPIBase is the public GitHub API.
	DefaultAPIBase = "https://api.github.com"
	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion = "2022-11-28"

	DefaultConnectTimeout  = 30 * time.Second
	DefaultTransferTimeout = 300 * time.Second
)

var repoPattern = regexp.MustCompile(`^([^/]+)/([^/]+)$`)

// ParseRepo splits "owner/repo".
func ParseRepo(s string) (owner, repo string, err error) {
	m := repoPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", apperr.New(apperr.Configuration, "invalid repository format %q (expected owner/repo)", s)
	}
	return m[1], m[2], nil
}

// Client talks to one repository.
type Client struct {
	httpClient *http.Client
	fs         afero.Fs
	baseURL    string
	userAgent  string
	token      string
	owner      string
	repo       string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithFs sets the filesystem downloads are written to.
func WithFs(fs afero.Fs) Option {
	return func(cl *Client) {
		if fs != nil {
			cl.fs = fs
		}
	}
}

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		if u != "" {
			cl.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithTimeouts bounds connection setup and whole requests.
func WithTimeouts(connect, transfer time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient = NewHTTPClient(connect, transfer)
	}
}

// NewHTTPClient returns a client with a dial timeout of connect and an
// overall request timeout of transfer.
func NewHTTPClient(connect, transfer time.Duration) *http.Client {
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	if transfer <= 0 {
		transfer = DefaultTransferTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	return &http.Client{Transport: transport, Timeout: transfer}
}

// New creates a Client for owner/repo authenticated with token.
func New(token, owner, repo string, opts ...Option) *Client {
	c := &Client{
		httpClient: NewHTTPClient(DefaultConnectTimeout, DefaultTransferTimeout),
		fs:         afero.NewOsFs(),
		baseURL:    DefaultAPIBase,
		userAgent:  branding.UserAgent(),
		token:      token,
		owner:      owner,
		repo:       repo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) repoURL(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo)) +
		fmt.Sprintf(format, args...)
}

// getJSON performs an authenticated API GET and decodes the body into v.
// Non-200 responses become remote errors carrying the API's message.
func (c *Client) getJSON(ctx context.Context, u string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Remote, err, "GitHub API request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.Remote, err, "reading response body")
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return apperr.New(apperr.Remote, "GitHub API error: %s", msg)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.Remote, err, "decoding GitHub response")
	}
	return nil
}
