package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Credentials is the persisted token cache.
type Credentials struct {
	Token   *oauth2.Token `json:"token"`
	Scope   string        `json:"scope,omitempty"`
	Account string        `json:"account,omitempty"`
}

// ExpiresAt returns the access token expiry, zero when unknown.
func (c *Credentials) ExpiresAt() time.Time {
	if c.Token == nil {
		return time.Time{}
	}
	return c.Token.Expiry
}

// CanRefresh reports whether a refresh token is cached.
func (c *Credentials) CanRefresh() bool {
	return c.Token != nil && c.Token.RefreshToken != ""
}

// Expired reports whether the access token expires within skew of now.
func (c *Credentials) Expired(now time.Time, skew time.Duration) bool {
	if c.Token == nil || c.Token.AccessToken == "" {
		return true
	}
	if c.Token.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.Token.Expiry)
}

// DefaultCachePath returns ~/.notemirror/token.json.
func DefaultCachePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notemirror", "token.json")
}

// LoadCredentials reads the cache at path. A missing file yields nil.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if creds.Token == nil {
		return nil, fmt.Errorf("token cache %s holds no token", path)
	}
	return &creds, nil
}

// SaveCredentials writes the cache at path, readable by the owner only.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token cache dir: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	return nil
}

// ClearCredentials removes the cache at path.
func ClearCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token cache: %w", err)
	}
	return nil
}

// tokenClaims reads the expiry and account name from a JWT access token
// without verifying it. Graph tokens for personal accounts are opaque; ok
// is false for them.
func tokenClaims(token string) (expiresAt time.Time, account string, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, "", false
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	for _, key := range []string{"upn", "preferred_username", "unique_name", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			account = v
			break
		}
	}
	return expiresAt, account, true
}
