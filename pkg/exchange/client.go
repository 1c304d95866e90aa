// Package exchange is the relay's only HTTP client for the exchange API.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

const (
	// DefaultRequestsPerSecond stays under the exchange's documented REST limit.
	DefaultRequestsPerSecond = 10

	defaultTimeout    = 10 * time.Second
	defaultInfoTries  = 3
	maxErrorBodyBytes = 4 << 10
)

// Client talks to one exchange deployment. Callers construct one per base
// URL; there is no package-level instance.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	log       *zap.SugaredLogger
	infoTries uint64
	backoff   func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log.Sugar() }
}

// WithInfoRetry sets how many times read-only /info calls are attempted and
// the backoff between attempts.
func WithInfoRetry(attempts int, newBackoff func() backoff.BackOff) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.infoTries = uint64(attempts)
		if newBackoff != nil {
			c.backoff = newBackoff
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(DefaultRequestsPerSecond, DefaultRequestsPerSecond),
		log:       zap.NewNop().Sugar(),
		infoTries: defaultInfoTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Submit POSTs a signed envelope to /exchange exactly once. Exchange actions
// are not idempotent, so nothing here retries. An "err" reply or a non-2xx
// status is returned as *RejectedError alongside the decoded response.
func (c *Client) Submit(ctx context.Context, env *SignedEnvelope) (*Response, error) {
	const op = "exchange.submit"

	body, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}

	status, data, err := c.post(ctx, "/exchange", body)
	if err != nil {
		c.log.Errorw("exchange_submit_failed", "kind", env.Action.Kind(), "nonce", env.Nonce, "error", err)
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}

	if status < 200 || status > 299 {
		reason := strings.TrimSpace(string(data))
		if reason == "" {
			reason = http.StatusText(status)
		}
		c.log.Warnw("exchange_http_error", "kind", env.Action.Kind(), "nonce", env.Nonce, "status", status, "body", reason)
		return nil, &RejectedError{Reason: reason, HTTPStatus: status}
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, fmt.Errorf("decode exchange reply: %w", err))
	}

	c.log.Infow("exchange_submitted",
		"kind", env.Action.Kind(),
		"nonce", env.Nonce,
		"status", resp.Status,
	)

	if !resp.OK() {
		return &resp, &RejectedError{Reason: resp.Reason(), HTTPStatus: status}
	}
	return &resp, nil
}

// Info POSTs a read-only query to /info, retrying transport failures and 5xx
// replies with exponential backoff.
func (c *Client) Info(ctx context.Context, req any) (json.RawMessage, error) {
	const op = "exchange.info"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}

	var out json.RawMessage
	attempt := 0
	operation := func() error {
		attempt++
		status, data, err := c.post(ctx, "/info", body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		switch {
		case status >= 500 || status == http.StatusTooManyRequests:
			return fmt.Errorf("info returned %d", status)
		case status < 200 || status > 299:
			return backoff.Permanent(&RejectedError{Reason: strings.TrimSpace(string(data)), HTTPStatus: status})
		}
		out = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warnw("exchange_info_retry", "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), c.infoTries-1), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if _, ok := err.(*RejectedError); ok {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	return out, nil
}

// MarketInfo returns the raw metaAndAssetCtxs snapshot.
func (c *Client) MarketInfo(ctx context.Context) (json.RawMessage, error) {
	return c.Info(ctx, map[string]string{"type": "metaAndAssetCtxs"})
}

func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	raw, err := c.Info(ctx, map[string]string{"type": "meta"})
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "exchange.meta", err)
	}
	return &meta, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := int64(-1)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBodyBytes
	}
	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s reply: %w", path, err)
	}
	return resp.StatusCode, data, nil
}
