// Package ledger is the client for the remote inventory system that is
// authoritative for final stock levels. It owns OAuth token caching and
// bounded request retries; callers always receive structured errors, never
// panics.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config collects connection settings for the remote ledger.
type Config struct {
	AccountsBase string
	APIBase      string
	ClientID     string
	ClientSecret string
	RefreshToken string
	OrgID        string
	TokenTTL     time.Duration
	HTTPTimeout  time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
}

// ErrCredentialsMissing indicates the refresh-grant credentials are not configured.
var ErrCredentialsMissing = errors.New("ledger: oauth credentials not configured")

// TokenError reports a failed token refresh exchange.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("ledger: token refresh failed: status %d: %s", e.StatusCode, e.Body)
}

// HTTPError reports a non-2xx response from the remote API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ledger: http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status class warrants another attempt.
// Client errors are terminal: retrying a malformed request cannot succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500
}

// RequestError wraps the last failure after retries are exhausted.
type RequestError struct {
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("ledger: request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// APIError reports an application-level rejection: the remote signals
// failure with code != 0 even on HTTP 200.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: api code %d: %s", e.Code, e.Message)
}

// ItemStock is the authoritative stock view for one item.
type ItemStock struct {
	ItemID         string
	Name           string
	AvailableStock float64
}

// AdjustmentRequest carries one relative stock adjustment to submit remotely.
type AdjustmentRequest struct {
	Date             string
	Reason           string
	ItemID           string
	QuantityAdjusted int64
}

// message can arrive as a plain string or a list of strings.
type apiMessage string

func (m *apiMessage) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*m = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = apiMessage(s)
		return nil
	}
	if trimmed[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*m = apiMessage(strings.Join(parts, " | "))
		return nil
	}
	*m = apiMessage(trimmed)
	return nil
}
