// Package auth provides token sources for authenticating against the
// Trendy API. Tokens are inspected (not verified - the server owns
// verification) so refresh happens ahead of expiry instead of on 401.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// expirySkew is how far ahead of the token's exp claim a refresh is
// triggered, so in-flight requests don't race expiry.
const expirySkew = 60 * time.Second

// TokenSource supplies bearer tokens for outbound API calls.
type TokenSource interface {
	// Token returns a token expected to be valid now.
	Token(ctx context.Context) (string, error)

	// Invalidate discards any cached token; the next Token call must
	// produce a fresh one. Called by the HTTP client on 401.
	Invalidate()
}

// StaticTokenSource returns a fixed token. Useful for tests and for
// deployments where an external agent manages rotation.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) { return string(s), nil }
func (s StaticTokenSource) Invalidate()                               {}

// RefreshingTokenSource exchanges a refresh token for access tokens and
// rotates them before expiry. Safe for concurrent use.
type RefreshingTokenSource struct {
	refreshURL   string
	refreshToken string
	httpClient   *http.Client
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewRefreshingTokenSource creates a source that posts the refresh
// token to refreshURL whenever the cached access token is missing or
// within expirySkew of its exp claim.
func NewRefreshingTokenSource(refreshURL, refreshToken string) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		refreshURL:   refreshURL,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
}

// Token implements TokenSource.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.now().Before(s.expiresAt.Add(-expirySkew)) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// Invalidate implements TokenSource.
func (s *RefreshingTokenSource) Invalidate() {
	s.mu.Lock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *RefreshingTokenSource) refreshLocked(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"refresh_token": s.refreshToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return fmt.Errorf("refresh response missing access_token")
	}

	s.accessToken = parsed.AccessToken
	if parsed.RefreshToken != "" {
		// Server may rotate the refresh token.
		s.refreshToken = parsed.RefreshToken
	}
	s.expiresAt = tokenExpiry(parsed.AccessToken, s.now())

	log.Debug().Time("expiresAt", s.expiresAt).Msg("refreshed access token")
	return nil
}

// tokenExpiry reads the exp claim from a JWT without verifying the
// signature. Verification is the server's job; the client only needs
// the expiry to schedule refreshes. Tokens without a readable exp get
// a conservative 5 minute lifetime.
func tokenExpiry(token string, now time.Time) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return now.Add(5 * time.Minute)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(5 * time.Minute)
	}
	return exp.Time
}
