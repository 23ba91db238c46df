package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client executes authenticated requests against the remote inventory API
// with bounded retries and exponential backoff. Timeouts, connection
// failures and 5xx responses are retried; 4xx responses are terminal.
type Client struct {
	cfg        Config
	tokens     *TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(time.Duration)
}

// NewClient constructs a client. The token source is injected so the same
// cached credential is shared by every caller.
func NewClient(cfg Config, tokens *TokenSource, logger *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// GetItemStock fetches the authoritative stock for one item.
func (c *Client) GetItemStock(ctx context.Context, itemRef string) (ItemStock, error) {
	var envelope struct {
		Code    int        `json:"code"`
		Message apiMessage `json:"message"`
		Item    struct {
			ItemID         string   `json:"item_id"`
			Name           string   `json:"name"`
			AvailableStock *float64 `json:"available_stock"`
			StockOnHand    *float64 `json:"stock_on_hand"`
		} `json:"item"`
	}
	path := "/items/" + url.PathEscape(itemRef)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return ItemStock{}, err
	}
	if envelope.Code != 0 {
		return ItemStock{}, &APIError{Code: envelope.Code, Message: messageOr(envelope.Message, "item lookup failed; check that the identifier is a valid item id")}
	}
	stock := ItemStock{ItemID: envelope.Item.ItemID, Name: envelope.Item.Name}
	switch {
	case envelope.Item.AvailableStock != nil:
		stock.AvailableStock = *envelope.Item.AvailableStock
	case envelope.Item.StockOnHand != nil:
		stock.AvailableStock = *envelope.Item.StockOnHand
	}
	if stock.ItemID == "" {
		stock.ItemID = itemRef
	}
	return stock, nil
}

// CreateAdjustment submits a relative stock adjustment. The delta semantics
// make a retried submission apply the same intended change again rather than
// setting an absolute level.
func (c *Client) CreateAdjustment(ctx context.Context, req AdjustmentRequest) error {
	payload := map[string]any{
		"date":   req.Date,
		"reason": req.Reason,
		"line_items": []map[string]any{{
			"item_id":           req.ItemID,
			"quantity_adjusted": req.QuantityAdjusted,
		}},
	}
	var envelope struct {
		Code    int        `json:"code"`
		Message apiMessage `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/inventoryadjustments", payload, &envelope); err != nil {
		return err
	}
	if envelope.Code != 0 {
		return &APIError{Code: envelope.Code, Message: messageOr(envelope.Message, "unknown error")}
	}
	return nil
}

// CheckConnection verifies reachability of the remote API and reports the
// round-trip latency.
func (c *Client) CheckConnection(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var envelope struct {
		Code    int        `json:"code"`
		Message apiMessage `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/organizations", nil, &envelope); err != nil {
		return time.Since(start), err
	}
	if envelope.Code != 0 {
		return time.Since(start), &APIError{Code: envelope.Code, Message: messageOr(envelope.Message, "unknown error")}
	}
	return time.Since(start), nil
}

// doJSON performs one authenticated request with retries and decodes the
// JSON body into target. Every path carries the organization id.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, target any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + path
	query := url.Values{}
	query.Set("organization_id", c.cfg.OrgID)
	endpoint += "?" + query.Encode()

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ledger: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.cfg.RetryBase << (attempt - 1))
		}

		raw, err := c.doOnce(ctx, method, endpoint, token, body)
		if err == nil {
			if err := json.Unmarshal(raw, target); err != nil {
				return fmt.Errorf("ledger: decode response: %w", err)
			}
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("ledger request retry",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
		}
	}
	return &RequestError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

func (c *Client) doOnce(ctx context.Context, method, endpoint, token string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("ledger: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func messageOr(msg apiMessage, fallback string) string {
	if msg == "" {
		return fallback
	}
	return string(msg)
}
