package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTokenTTL = 45 * time.Minute

// TokenSource caches a single shared access token and refreshes it through
// the refresh-grant exchange before the freshness window expires. Callers
// never receive a stale token silently: a failed refresh is surfaced as an
// error instead.
type TokenSource struct {
	mu        sync.Mutex
	cfg       Config
	client    *http.Client
	token     string
	fetchedAt time.Time
	now       func() time.Time
}

// NewTokenSource constructs a token source for the configured credentials.
func NewTokenSource(cfg Config, client *http.Client) *TokenSource {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if client == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &TokenSource{cfg: cfg, client: client, now: time.Now}
}

// Token returns the cached access token, refreshing it when the freshness
// window has elapsed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Sub(s.fetchedAt) <= s.cfg.TokenTTL {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// ForceRefresh discards the cached token and performs a fresh exchange.
func (s *TokenSource) ForceRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return s.refreshLocked(ctx)
}

func (s *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" || s.cfg.RefreshToken == "" {
		return "", ErrCredentialsMissing
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("refresh_token", s.cfg.RefreshToken)

	endpoint := strings.TrimRight(s.cfg.AccountsBase, "/") + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ledger: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger: token request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ledger: read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TokenError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("ledger: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", &TokenError{StatusCode: resp.StatusCode, Body: "response missing access_token"}
	}

	s.token = payload.AccessToken
	s.fetchedAt = s.now()
	return s.token, nil
}
