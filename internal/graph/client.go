// Package graph is the HTTP transport to the Microsoft Graph OneNote API.
//
// The Client authenticates every request with a bearer token, bounds the
// number of requests in flight, retries transient failures and routes 429
// responses through a shared Backoff controller so that one throttled
// request pauses the whole run.
package graph

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Invalidator is implemented by token sources that can drop a cached token
// after the service rejected it with 401.
type Invalidator interface {
	Invalidate()
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Concurrency int64
	MaxRetries  int
	RetryCodes  []int
	Timeout     time.Duration
	UserAgent   string
	RateLimit   RateLimitPolicy
	Logger      *log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Concurrency: 4,
		MaxRetries:  2,
		RetryCodes:  []int{http.StatusUnauthorized, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		Timeout:     60 * time.Second,
		UserAgent:   "notemirror",
		RateLimit:   DefaultRateLimitPolicy(),
	}
}

// Response is a fully read 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// Client talks to the Graph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	sem        *semaphore.Weighted
	backoff    *Backoff
	retryCodes map[int]bool
	maxRetries int
	userAgent  string
	logger     *log.Logger

	newRequestID func() string
}

// New creates a client with DefaultConfig.
func New(tokens TokenSource) *Client {
	return NewWithConfig(tokens, DefaultConfig())
}

// NewWithConfig creates a client with the given configuration.
func NewWithConfig(tokens TokenSource, cfg *Config) *Client {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryCodes == nil {
		cfg.RetryCodes = def.RetryCodes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimit == (RateLimitPolicy{}) {
		cfg.RateLimit = def.RateLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[graph] ", log.LstdFlags)
	}

	codes := make(map[int]bool, len(cfg.RetryCodes))
	for _, c := range cfg.RetryCodes {
		codes[c] = true
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		tokens:       tokens,
		sem:          semaphore.NewWeighted(cfg.Concurrency),
		backoff:      NewBackoff(cfg.RateLimit, logger),
		retryCodes:   codes,
		maxRetries:   cfg.MaxRetries,
		userAgent:    cfg.UserAgent,
		logger:       logger,
		newRequestID: uuid.NewString,
	}
}

// Backoff returns the client's rate-limit controller.
func (c *Client) Backoff() *Backoff {
	return c.backoff
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NotebooksURL returns the listing URL for every notebook of the user.
func (c *Client) NotebooksURL() string {
	return c.baseURL + "/me/onenote/notebooks"
}

// SectionGroupsURL returns the listing URL for every section group.
func (c *Client) SectionGroupsURL() string {
	return c.baseURL + "/me/onenote/sectionGroups"
}

// SectionsURL returns the listing URL for every section.
func (c *Client) SectionsURL() string {
	return c.baseURL + "/me/onenote/sections"
}

// PagesURL returns the page listing URL of one section.
func (c *Client) PagesURL(sectionID string) string {
	return c.baseURL + "/me/onenote/sections/" + url.PathEscape(sectionID) + "/pages"
}

// PageContentURL returns the HTML content URL of one page.
func (c *Client) PageContentURL(pageID string) string {
	return c.baseURL + "/me/onenote/pages/" + url.PathEscape(pageID) + "/content"
}

type noRetryKey struct{}

// WithoutRetry marks requests made with the returned context as
// single-shot: any response, including 429, is returned to the caller as is.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func noRetry(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey{}).(bool)
	return v
}

// Get fetches rawURL and returns the 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	single := noRetry(ctx)

	for attempt := 0; ; attempt++ {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, rawURL)
		if err == nil && resp.Status == http.StatusTooManyRequests && !single && attempt < c.maxRetries {
			// The slot is held until the controller is suspended, so no
			// queued request takes it in between.
			_, err := c.backoff.Trip(ctx)
			c.sem.Release(1)
			if err != nil {
				return nil, err
			}
			continue
		}
		c.sem.Release(1)

		if err != nil {
			if ctx.Err() != nil || single || attempt >= c.maxRetries {
				return nil, err
			}
			c.logger.Printf("Request to %s failed (attempt %d): %v", rawURL, attempt+1, err)
			continue
		}

		if resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}

		statusErr := &StatusError{Status: resp.Status, URL: rawURL, Body: string(resp.Body)}
		if single {
			return resp, statusErr
		}

		if resp.Status == http.StatusTooManyRequests || !c.retryCodes[resp.Status] || attempt >= c.maxRetries {
			return nil, statusErr
		}
		if resp.Status == http.StatusUnauthorized {
			if inv, ok := c.tokens.(Invalidator); ok {
				inv.Invalidate()
			}
		}
		c.logger.Printf("Retrying %s after %d (attempt %d)", rawURL, resp.Status, attempt+1)
	}
}

// acquire takes a transport slot once the backoff controller lets requests
// through. A slot obtained while the controller is suspended is handed back
// and the caller waits for the cooldown again.
func (c *Client) acquire(ctx context.Context) error {
	for {
		if err := c.backoff.Wait(ctx); err != nil {
			return err
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		if c.backoff.State() == Flowing {
			return nil
		}
		c.sem.Release(1)
	}
}

// do sends one request on a slot held by the caller. Non-2xx responses are
// returned without error.
func (c *Client) do(ctx context.Context, rawURL string) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if token == "" {
		return nil, ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", c.newRequestID())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    rawURL,
	}, nil
}
