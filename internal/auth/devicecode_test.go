package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// identityServer fakes the devicecode and token endpoints.
type identityServer struct {
	*httptest.Server
	pending   atomic.Int32 // polls answered with authorization_pending
	refreshs  atomic.Int32
	token     string
	expiresIn int
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newIdentityServer(t *testing.T, token string, pending int32) *identityServer {
	t.Helper()
	s := &identityServer{token: token, expiresIn: 3600}
	s.pending.Store(pending)

	mux := http.NewServeMux()
	mux.HandleFunc("/common/oauth2/v2.0/devicecode", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("client_id") != "client-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_client"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":      "dev-code",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/common/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.Form.Get("grant_type") {
		case "urn:ietf:params:oauth:grant-type:device_code":
			if r.Form.Get("device_code") != "dev-code" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
				return
			}
			if s.pending.Add(-1) >= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":             "authorization_pending",
					"error_description": "waiting",
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  s.token,
				"token_type":    "Bearer",
				"refresh_token": "refresh-1",
				"expires_in":    s.expiresIn,
				"scope":         "Notes.Read",
			})
		case "refresh_token":
			s.refreshs.Add(1)
			if r.Form.Get("refresh_token") != "refresh-1" {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":             "invalid_grant",
					"error_description": "bad refresh token",
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "refreshed-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		}
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestProvider(t *testing.T, srv *identityServer) *DeviceCode {
	t.Helper()
	return NewDeviceCode(Config{
		ClientID:  "client-1",
		Authority: srv.URL,
		CachePath: filepath.Join(t.TempDir(), "token.json"),
	}, log.New(io.Discard, "", 0))
}

func signedToken(t *testing.T, exp time.Time, upn string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"upn": upn,
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDeviceCode_LoginPollsUntilAuthorized(t *testing.T) {
	ctx := context.Background()
	srv := newIdentityServer(t, "opaque-token", 1)
	d := newTestProvider(t, srv)

	var shown *DeviceAuthorization
	require.NoError(t, d.Login(ctx, func(a *DeviceAuthorization) { shown = a }))
	require.NotNil(t, shown)
	assert.Equal(t, "ABCD-EFGH", shown.UserCode)
	assert.Equal(t, "https://microsoft.com/devicelogin", shown.VerificationURI)

	tok, err := d.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok)
	assert.Equal(t, int32(0), srv.refreshs.Load())

	info, err := os.Stat(d.cfg.CachePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A fresh provider reads the cache.
	again := newTestProvider(t, srv)
	again.cfg.CachePath = d.cfg.CachePath
	tok, err = again.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok)
}

func TestDeviceCode_AccountFromJWT(t *testing.T) {
	srv := newIdentityServer(t, signedToken(t, time.Now().Add(time.Hour), "ada@example.com"), 0)
	d := newTestProvider(t, srv)

	require.NoError(t, d.Login(context.Background(), func(*DeviceAuthorization) {}))

	creds, err := d.Status()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "ada@example.com", creds.Account)
	assert.Equal(t, "Notes.Read", creds.Scope)
	assert.True(t, creds.CanRefresh())
}

func TestDeviceCode_ExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	srv := newIdentityServer(t, signedToken(t, exp, "ada@example.com"), 0)
	srv.expiresIn = 0
	d := newTestProvider(t, srv)

	require.NoError(t, d.Login(context.Background(), func(*DeviceAuthorization) {}))

	creds, err := d.Status()
	require.NoError(t, err)
	assert.True(t, creds.ExpiresAt().Equal(exp))
}

func TestDeviceCode_RefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	srv := newIdentityServer(t, "first-token", 0)
	// Shorter than the refresh margin of x/oauth2, so the token is stale
	// as soon as it arrives.
	srv.expiresIn = 5
	d := newTestProvider(t, srv)
	require.NoError(t, d.Login(ctx, func(*DeviceAuthorization) {}))

	tok, err := d.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok)
	assert.Equal(t, int32(1), srv.refreshs.Load())

	cached, err := LoadCredentials(d.cfg.CachePath)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", cached.Token.AccessToken)
	assert.Equal(t, "refresh-1", cached.Token.RefreshToken, "refresh token kept when not rotated")

	// The refreshed token is reused.
	_, err = d.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.refreshs.Load())
}

func TestDeviceCode_InvalidateForcesRefresh(t *testing.T) {
	ctx := context.Background()
	srv := newIdentityServer(t, "first-token", 0)
	d := newTestProvider(t, srv)
	require.NoError(t, d.Login(ctx, func(*DeviceAuthorization) {}))

	tok, err := d.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first-token", tok)

	d.Invalidate()
	tok, err = d.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", tok)
}

func TestDeviceCode_ExpiredWithoutRefreshToken(t *testing.T) {
	srv := newIdentityServer(t, "unused", 0)
	d := newTestProvider(t, srv)
	require.NoError(t, SaveCredentials(d.cfg.CachePath, &Credentials{
		Token: &oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Hour)},
	}))

	_, err := d.Token(context.Background())
	assert.True(t, errors.Is(err, ErrNoRefreshToken))
	assert.Equal(t, int32(0), srv.refreshs.Load())
}

func TestDeviceCode_NotLoggedIn(t *testing.T) {
	srv := newIdentityServer(t, "unused", 0)
	d := newTestProvider(t, srv)

	_, err := d.Token(context.Background())
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	require.NoError(t, d.Logout())
}

func TestDeviceCode_LoginRequiresClientID(t *testing.T) {
	d := NewDeviceCode(Config{CachePath: filepath.Join(t.TempDir(), "t.json")}, log.New(io.Discard, "", 0))
	err := d.Login(context.Background(), func(*DeviceAuthorization) {})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
}

func TestCredentials_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		creds    Credentials
		expected bool
	}{
		{"no token", Credentials{}, true},
		{"no expiry", Credentials{Token: &oauth2.Token{AccessToken: "x"}}, false},
		{"valid", Credentials{Token: &oauth2.Token{AccessToken: "x", Expiry: now.Add(time.Hour)}}, false},
		{"within skew", Credentials{Token: &oauth2.Token{AccessToken: "x", Expiry: now.Add(time.Minute)}}, true},
		{"past", Credentials{Token: &oauth2.Token{AccessToken: "x", Expiry: now.Add(-time.Minute)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.creds.Expired(now, 2*time.Minute))
		})
	}
}
