package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultAuthority is the Microsoft identity platform host.
const DefaultAuthority = "https://login.microsoftonline.com"

// Config configures the device-code flow.
type Config struct {
	// ClientID is the application (client) id of the Azure app registration.
	ClientID string

	// Tenant is "common", "consumers", "organizations" or a tenant id.
	Tenant string

	// Authority is the identity platform host.
	Authority string

	Scopes []string

	// CachePath is where tokens are persisted.
	CachePath string
}

// DefaultConfig returns the settings for a personal OneNote account.
func DefaultConfig() Config {
	return Config{
		Tenant:    "common",
		Authority: DefaultAuthority,
		Scopes:    []string{"Notes.Read", "offline_access"},
		CachePath: DefaultCachePath(),
	}
}

// DeviceAuthorization is shown to the user during login.
type DeviceAuthorization struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Expiry                  time.Time
}

// DeviceCode is a TokenProvider backed by the device-code flow and a token
// cache file. It is safe for concurrent use.
type DeviceCode struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *log.Logger

	mu     sync.Mutex
	creds  *Credentials
	source oauth2.TokenSource
}

// NewDeviceCode creates a provider. Cached credentials are read lazily.
func NewDeviceCode(cfg Config, logger *log.Logger) *DeviceCode {
	def := DefaultConfig()
	if cfg.Tenant == "" {
		cfg.Tenant = def.Tenant
	}
	if cfg.Authority == "" {
		cfg.Authority = def.Authority
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = def.Scopes
	}
	if cfg.CachePath == "" {
		cfg.CachePath = def.CachePath
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &DeviceCode{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: endpoint(cfg.Authority, cfg.Tenant),
			Scopes:   cfg.Scopes,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// endpoint returns the v2.0 endpoints of tenant. The public authority uses
// the endpoints shipped with x/oauth2.
func endpoint(authority, tenant string) oauth2.Endpoint {
	authority = strings.TrimRight(authority, "/")
	base := authority + "/" + url.PathEscape(tenant) + "/oauth2/v2.0/"

	var ep oauth2.Endpoint
	if authority == DefaultAuthority {
		ep = microsoft.AzureADEndpoint(tenant)
	} else {
		ep = oauth2.Endpoint{AuthURL: base + "authorize", TokenURL: base + "token"}
	}
	if ep.DeviceAuthURL == "" {
		ep.DeviceAuthURL = base + "devicecode"
	}
	// Public clients have no secret to send in a basic auth header.
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// withClient makes x/oauth2 use the provider's HTTP client.
func (d *DeviceCode) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
}

// Login runs the device-code flow. prompt is called once with the code the
// user has to enter; Login then polls until the user completes sign-in, the
// code expires or ctx is cancelled.
func (d *DeviceCode) Login(ctx context.Context, prompt func(*DeviceAuthorization)) error {
	if d.cfg.ClientID == "" {
		return fmt.Errorf("auth.client_id is not configured")
	}
	ctx = d.withClient(ctx)

	da, err := d.oauth.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("failed to request device code: %w", err)
	}
	prompt(&DeviceAuthorization{
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		Expiry:                  da.Expiry,
	})

	tok, err := d.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("failed to complete device login: %w", err)
	}

	d.mu.Lock()
	d.store(tok)
	creds := *d.creds
	d.mu.Unlock()

	if err := SaveCredentials(d.cfg.CachePath, &creds); err != nil {
		return err
	}
	d.logger.Printf("Logged in as %s", accountOrUnknown(creds.Account))
	return nil
}

// Token implements TokenProvider. An expired access token is refreshed
// through x/oauth2 and the new token is written back to the cache.
func (d *DeviceCode) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.creds == nil {
		creds, err := LoadCredentials(d.cfg.CachePath)
		if err != nil {
			return "", err
		}
		if creds == nil {
			return "", ErrNotLoggedIn
		}
		d.creds = creds
		d.source = d.tokenSource(creds.Token)
	}

	if !d.creds.Token.Valid() && !d.creds.CanRefresh() {
		return "", ErrNoRefreshToken
	}

	tok, err := d.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if tok.AccessToken != d.creds.Token.AccessToken {
		d.store(tok)
		if err := SaveCredentials(d.cfg.CachePath, d.creds); err != nil {
			d.logger.Printf("WARNING: %v", err)
		}
	}
	return tok.AccessToken, nil
}

// Invalidate implements TokenProvider.
func (d *DeviceCode) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.creds == nil {
		return
	}
	expired := *d.creds.Token
	expired.Expiry = time.Now().Add(-time.Second)
	d.creds.Token = &expired
	d.source = d.tokenSource(&expired)
}

// Status returns the cached credentials, or nil when logged out.
func (d *DeviceCode) Status() (*Credentials, error) {
	return LoadCredentials(d.cfg.CachePath)
}

// Logout removes the token cache.
func (d *DeviceCode) Logout() error {
	d.mu.Lock()
	d.creds = nil
	d.source = nil
	d.mu.Unlock()
	return ClearCredentials(d.cfg.CachePath)
}

// tokenSource refreshes tok on demand. Refreshes outlive any single
// request, so they run on a background context.
func (d *DeviceCode) tokenSource(tok *oauth2.Token) oauth2.TokenSource {
	return d.oauth.TokenSource(d.withClient(context.Background()), tok)
}

// store makes tok the current token. The expiry falls back to the JWT exp
// claim when the response carried no expires_in. The caller holds mu.
func (d *DeviceCode) store(tok *oauth2.Token) {
	exp, account, _ := tokenClaims(tok.AccessToken)
	if tok.Expiry.IsZero() && !exp.IsZero() {
		withExpiry := *tok
		withExpiry.Expiry = exp
		tok = &withExpiry
	}

	creds := &Credentials{Token: tok, Account: account}
	if scope, ok := tok.Extra("scope").(string); ok {
		creds.Scope = scope
	} else if d.creds != nil {
		creds.Scope = d.creds.Scope
	}
	if creds.Account == "" && d.creds != nil {
		creds.Account = d.creds.Account
	}
	d.creds = creds
	d.source = d.tokenSource(tok)
}

func accountOrUnknown(account string) string {
	if account == "" {
		return "unknown account"
	}
	return account
}
