package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Credentials identify the clinician a device acts for. At least one field
// must be set.
type Credentials struct {
	UserID       string // Authenticated account, sent as X-User-ID
	PairingToken string // Mobile pairing token, sent as the token query parameter
	GuestToken   string // Anonymous guest token, sent as X-Guest-Token
}

// Empty reports whether no identity source is configured.
func (c Credentials) Empty() bool {
	return c.UserID == "" && c.PairingToken == "" && c.GuestToken == ""
}

// Client provides access to the syncd REST API.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	now func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Credentials returns the identity the client sends.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration. It applies to GET, HEAD, PUT
// and DELETE only.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
