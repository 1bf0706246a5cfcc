package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/provideplatform/mixer/common"
)

const defaultBackoff = time.Millisecond * 500
const maxResponseSize = 1 << 16

// Client submits withdrawals to a relayer over HTTP. Protocol rejections are surfaced
// with their original classification; transport faults are retried with exponential
// backoff up to the configured attempt limit.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithTimeout bounds each attempt
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMaxAttempts bounds the number of attempts for transport failures
func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.maxAttempts = attempts
	}
}

// WithBackoff sets the wait before the first retry; it doubles on each subsequent retry
func WithBackoff(backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = backoff
	}
}

// WithHTTPClient overrides the underlying http client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient returns a relayer client for the given base url
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{},
		timeout:     common.RelayerTimeout,
		maxAttempts: common.RelayerMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Withdraw requests a fee-sponsored withdrawal and returns the ledger transaction id.
// Replaying a request that already settled yields ErrAlreadyWithdrawn, so retries are safe.
func (c *Client) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(common.ErrMalformedRequest, err.Error())
	}

	resp := &WithdrawResponse{}
	err = c.retry(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, http.MethodPost, "/withdraw", body, resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Signature == "" {
		return nil, errors.Wrap(common.ErrMalformedResponse, "missing signature")
	}
	return resp, nil
}

// Health fetches the advisory relayer status; it is never retried
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp := &HealthResponse{}
	err := c.roundTrip(ctx, http.MethodGet, "/health", nil, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !common.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		common.Log.Debugf("relayer attempt %d of %d failed; retrying in %s; %s", attempt, c.maxAttempts, wait, err.Error())
	}

	return backoff.RetryNotify(op, backoff.WithContext(newBackOff(c.backoff, c.maxAttempts), ctx), notify)
}

// newBackOff doubles the wait from initial and stops after attempts total calls
func newBackOff(initial time.Duration, attempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = initial << 6
	b.MaxElapsedTime = 0
	b.Reset()
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out interface{}) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(common.ErrRelayerUnreachable, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(common.ErrRelayerTimeout, "no response within %s", c.timeout)
		}
		return errors.Wrap(common.ErrRelayerUnreachable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(common.ErrRelayerUnreachable, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		err = json.Unmarshal(raw, out)
		if err != nil {
			return errors.Wrap(common.ErrMalformedResponse, err.Error())
		}
		return nil
	}

	return decodeError(resp.StatusCode, raw)
}

// decodeError restores the classified error from a failure body; gateway failures
// without a structured body are transport errors
func decodeError(status int, raw []byte) error {
	errResp := &ErrorResponse{}
	err := json.Unmarshal(raw, errResp)
	if err != nil || errResp.Code == "" {
		switch status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return errors.Wrapf(common.ErrRelayerUnreachable, "relayer responded with status %d", status)
		}
		return errors.Wrapf(common.ErrMalformedResponse, "unstructured response with status %d", status)
	}

	return errResp.asError()
}
