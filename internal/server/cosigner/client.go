// Package cosigner talks to the external cosigning service. Each call is a
// single JSON POST with its own timeout; calls are never retried.
package cosigner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/metrics"
)

const maxResponseSize = 1 << 20

// ErrUnexpectedResponse is returned when the cosigner replies without the
// field a call expects and without an error message either.
var ErrUnexpectedResponse = errors.New("unexpected cosigner response")

// UpstreamError is an error message reported by the cosigner itself.
type UpstreamError struct {
	Reason string
}

func (e *UpstreamError) Error() string {
	return "cosigner: " + e.Reason
}

// Client is a cosigning service client.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  logging.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New builds a client for the service rooted at baseURL.
func New(baseURL string, timeout time.Duration, logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		logger:  logger.With("module", "cosigner_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join asks the cosigner to join the wallet identified by walletID using
// the wallet's join secret. It returns the wallet state the cosigner keeps
// for later calls.
func (c *Client) Join(ctx context.Context, secret, walletID string) (json.RawMessage, error) {
	var resp struct {
		Wallet json.RawMessage `json:"wallet"`
	}
	err := c.call(ctx, "join", "/join", map[string]any{"secret": secret, "walletId": walletID}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Wallet) == 0 {
		return nil, ErrUnexpectedResponse
	}
	return resp.Wallet, nil
}

// NewAddress derives num new addresses. The result is either a single
// address object or a list of them, as returned by the cosigner.
func (c *Client) NewAddress(ctx context.Context, wallet json.RawMessage, num int64) (json.RawMessage, error) {
	var resp struct {
		Address json.RawMessage `json:"address"`
	}
	err := c.call(ctx, "address", "/address/new", map[string]any{"num": num, "wallet": wallet}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Address) == 0 {
		return nil, ErrUnexpectedResponse
	}
	return resp.Address, nil
}

// Balance returns the wallet balance as reported by the cosigner.
func (c *Client) Balance(ctx context.Context, wallet json.RawMessage) (json.RawMessage, error) {
	var resp struct {
		Balance json.RawMessage `json:"balance"`
	}
	err := c.call(ctx, "balance", "/balance", map[string]any{"wallet": wallet}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Balance) == 0 {
		return nil, ErrUnexpectedResponse
	}
	return resp.Balance, nil
}

func (c *Client) call(ctx context.Context, op, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		var upErr *UpstreamError
		switch {
		case errors.As(err, &upErr):
			result = "rejected"
		case err != nil:
			result = "error"
		}
		c.metrics.ObserveCosigner(op, result, time.Since(start))
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cosigner %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("cosigner %s: %w", op, err)
	}

	var reply struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("cosigner %s: status %d: %w", op, resp.StatusCode, err)
	}
	if reply.Error != nil {
		c.logger.Info(ctx, "cosigner rejected request", "op", op, "reason", *reply.Error)
		return &UpstreamError{Reason: *reply.Error}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("cosigner %s: status %d", op, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cosigner %s: %w", op, err)
	}
	return nil
}
