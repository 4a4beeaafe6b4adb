package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"clipvault/internal/types"
)

// tokenExpiryMargin is how long before actual expiry a cached token is
// treated as expired. Helix app tokens live for weeks, but a token acquired
// near the end of its life must not be handed to a multi-minute window
// fetch.
const tokenExpiryMargin = 5 * time.Minute

// TokenSource acquires and caches an app access token via the
// client-credentials grant. It is safe for concurrent use; refreshes are
// serialized so parallel jobs never stampede the token endpoint.
type TokenSource struct {
	base         *BaseClient
	clientID     string
	clientSecret types.SecretString
	tokenURL     string
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// TokenSourceConfig holds the configuration for creating a TokenSource.
type TokenSourceConfig struct {
	ClientID     string
	ClientSecret types.SecretString
	TokenURL     string
	Logger       *slog.Logger

	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewTokenSource creates a TokenSource using the given BaseClient.
func NewTokenSource(base *BaseClient, cfg TokenSourceConfig) *TokenSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenSource{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		logger:       logger,
		now:          now,
	}
}

// Token returns a valid bearer token, refreshing if the cached one is
// missing or within the expiry margin.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expiresAt.Add(-tokenExpiryMargin)) {
		return s.token, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// ForceRefresh discards the cached token and acquires a new one. Long jobs
// call this on a periodic window cadence rather than waiting for a 401.
func (s *TokenSource) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return s.refreshLocked(ctx)
}

func (s *TokenSource) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret.Reveal()},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAppError(types.ErrCodeUpstreamAuth,
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
			fmt.Errorf("%s", body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBadResponse, "decoding token response", err)
	}
	if payload.AccessToken == "" {
		return types.NewAppError(types.ErrCodeUpstreamBadResponse, "token response missing access_token", nil)
	}

	s.token = payload.AccessToken
	s.expiresAt = s.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	s.logger.DebugContext(ctx, "acquired app access token",
		"expires_in_seconds", payload.ExpiresIn,
	)
	return nil
}
