package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// refreshMargin is how long before expiry a cached token is considered
// stale and refreshed proactively.
const refreshMargin = 60 * time.Second

// cachedToken is the on-disk token file format.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// tokenSource caches the OAuth access token in memory and on disk and
// refreshes it through the client-credentials grant when it nears
// expiry.
type tokenSource struct {
	mu        sync.Mutex
	path      string
	token     string
	expiresAt time.Time
	refresh   func(ctx context.Context) (string, time.Time, error)
}

func newTokenSource(path string, refresh func(ctx context.Context) (string, time.Time, error)) *tokenSource {
	ts := &tokenSource{path: path, refresh: refresh}
	ts.loadFromDisk()
	return ts
}

// Token returns a valid access token, refreshing first if the cached
// one expires within the refresh margin.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expiresAt) > refreshMargin {
		return ts.token, nil
	}

	token, expiresAt, err := ts.refresh(ctx)
	if err != nil {
		ts.token = ""
		return "", &AuthError{Reason: "token refresh failed", Err: err}
	}

	ts.token = token
	ts.expiresAt = expiresAt
	ts.saveToDisk()

	log.Info().Time("expires_at", expiresAt).Msg("🔑 Access token refreshed")
	return token, nil
}

// Invalidate forces a refresh on the next Token call (after a 401).
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
}

func (ts *tokenSource) loadFromDisk() {
	if ts.path == "" {
		return
	}
	data, err := os.ReadFile(ts.path)
	if err != nil {
		return
	}
	var cached cachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Warn().Err(err).Str("path", ts.path).Msg("Token cache unreadable, ignoring")
		return
	}
	if cached.AccessToken == "" || time.Until(cached.ExpiresAt) <= refreshMargin {
		return
	}
	ts.token = cached.AccessToken
	ts.expiresAt = cached.ExpiresAt
	log.Info().Time("expires_at", cached.ExpiresAt).Msg("🔑 Access token loaded from cache")
}

func (ts *tokenSource) saveToDisk() {
	if ts.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(ts.path), 0o755); err != nil {
		log.Warn().Err(err).Msg("Token cache dir create failed")
		return
	}
	data, err := json.Marshal(cachedToken{AccessToken: ts.token, ExpiresAt: ts.expiresAt})
	if err != nil {
		return
	}
	if err := os.WriteFile(ts.path, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", ts.path).Msg("Token cache write failed")
	}
}

// parseExpiry parses the broker's yyyymmddhhmmss expiry stamp in loc.
func parseExpiry(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("20060102150405", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires_dt %q: %w", s, err)
	}
	return t, nil
}
