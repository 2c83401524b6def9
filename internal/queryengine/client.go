// Package queryengine drives query templates to completion against the
// external asynchronous query engine: create query, create execution, poll,
// fetch results. Requests carry retry, backoff, and token refresh, and are
// throttled through the shared instance gate.
package queryengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/limiter"
)

// TokenSource is the authentication collaborator. RefreshToken is invoked at
// most once per API step, on the first 401.
type TokenSource interface {
	RefreshToken(ctx context.Context, userID string) (string, error)
}

// StaticTokenSource hands back a fixed credential. A 401 against a static
// credential retries once with the same token and then fails as auth-class.
type StaticTokenSource struct {
	Token string
}

func (s StaticTokenSource) RefreshToken(ctx context.Context, userID string) (string, error) {
	return s.Token, nil
}

// Config holds the client's connection and retry settings.
type Config struct {
	BaseURL string
	// UserID is handed to the token-refresh collaborator.
	UserID string
	// Token is the initial credential.
	Token string

	// RequestTimeout bounds one HTTP round trip. Default 30s.
	RequestTimeout time.Duration
	// PollInterval is the wait between execution status checks. Default 15s.
	PollInterval time.Duration
	// DefaultDeadline bounds one node execution when the node's settings
	// leave it unset. Default 30m.
	DefaultDeadline time.Duration
	// MaxAttempts is the per-step retry ceiling. Default 5.
	MaxAttempts int
	// MinBackoff / MaxBackoff bound the retry delay. Defaults 500ms / 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// CancelGrace bounds the best-effort engine-side cancel. Default 5s.
	CancelGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 30 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 5 * time.Second
	}
	return c
}

// Client is the execution client for one query engine instance. It is safe
// for concurrent use; all requests pass through the shared gate.
type Client struct {
	cfg    Config
	http   *resty.Client
	gate   *limiter.Gate
	tokens TokenSource

	mu    sync.Mutex
	token string
}

// New builds a Client around the shared gate and token source.
func New(cfg Config, gate *limiter.Gate, tokens TokenSource) *Client {
	cfg = cfg.withDefaults()
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout)
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		gate:   gate,
		tokens: tokens,
		token:  cfg.Token,
	}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

// Request describes one node execution against the engine.
type Request struct {
	SQL            string
	OutputLocation string
	Window         composition.TimeWindow
	// Deadline overrides the client default for this node. Zero keeps the default.
	Deadline time.Duration
}

// Execute drives one query to completion: create the query definition,
// create an execution with the time window, poll until terminal, fetch rows.
// Each step retries transient failures independently; the poll phase as a
// whole is bounded by the node deadline.
func (c *Client) Execute(ctx context.Context, req Request) (*composition.ResultSet, error) {
	logger := ctxlog.FromContext(ctx)
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = c.cfg.DefaultDeadline
	}

	var query createQueryResponse
	if err := c.do(ctx, http.MethodPost, "/queries", createQueryRequest{
		SQL:            req.SQL,
		OutputLocation: req.OutputLocation,
	}, &query); err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}
	logger.Debug("Query created.", "query_id", query.QueryID)

	var exec createExecutionResponse
	if err := c.do(ctx, http.MethodPost, "/queries/"+query.QueryID+"/executions", createExecutionRequest{
		TimeWindow: wireTimeWindow{Start: req.Window.StartString(), End: req.Window.EndString()},
	}, &exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	logger.Debug("Execution created.", "execution_id", exec.ExecutionID)

	status, err := c.pollUntilTerminal(ctx, exec.ExecutionID, deadline)
	if err != nil {
		return nil, err
	}

	if status.ResultLocation == "" {
		return nil, &ExecutionFailedError{ExecutionID: exec.ExecutionID, Status: status.Status, Message: "no result location on a succeeded execution"}
	}
	var results composition.ResultSet
	if err := c.do(ctx, http.MethodGet, "/results/"+status.ResultLocation, nil, &results); err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}
	logger.Debug("Results fetched.", "execution_id", exec.ExecutionID, "rows", len(results.Rows))
	return &results, nil
}

// pollUntilTerminal checks execution status on the poll interval until the
// engine reports a terminal state or the node deadline elapses. Cancellation
// and deadline both interrupt the wait promptly and trigger a best-effort
// engine-side cancel.
func (c *Client) pollUntilTerminal(ctx context.Context, executionID string, deadline time.Duration) (*executionStatusResponse, error) {
	logger := ctxlog.FromContext(ctx)
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		var status executionStatusResponse
		err := c.do(pollCtx, http.MethodGet, "/executions/"+executionID, nil, &status)
		switch {
		case err == nil:
		case pollCtx.Err() != nil:
			return nil, c.interrupted(ctx, executionID, deadline)
		default:
			return nil, fmt.Errorf("poll execution: %w", err)
		}

		switch status.Status {
		case statusSucceeded:
			return &status, nil
		case statusFailed, statusCancelled:
			return nil, &ExecutionFailedError{ExecutionID: executionID, Status: status.Status, Message: status.Error}
		case statusPending, statusRunning:
			logger.Debug("Execution still in flight.", "execution_id", executionID, "status", status.Status)
		default:
			return nil, &ExecutionFailedError{ExecutionID: executionID, Status: status.Status, Message: "unrecognized execution status"}
		}

		if err := sleepContext(pollCtx, c.cfg.PollInterval); err != nil {
			return nil, c.interrupted(ctx, executionID, deadline)
		}
	}
}

// interrupted distinguishes run-level cancellation from the node deadline,
// issuing a best-effort cancel against the engine in both cases.
func (c *Client) interrupted(ctx context.Context, executionID string, deadline time.Duration) error {
	c.cancelExecution(executionID)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &DeadlineError{Deadline: deadline}
}

// cancelExecution asks the engine to stop an execution. It runs on its own
// detached context so it still goes out after run-level cancellation, and
// gives up after the grace period. Failure here is logged, never propagated.
func (c *Client) cancelExecution(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CancelGrace)
	defer cancel()
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return
	}
	defer release()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.currentToken()).
		Delete("/executions/" + executionID)
	if err != nil || resp.StatusCode() >= 300 {
		ctxlog.FromContext(ctx).Warn("Best-effort execution cancel did not go through.", "execution_id", executionID, "error", err)
	}
}

// do issues one API call with the full retry policy: transient failures
// (timeouts, 5xx, 429) back off exponentially up to the attempt ceiling with
// any advertised retry-after as a floor; the first 401 refreshes the token
// and retries the same step exactly once; other 4xx fail immediately.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	logger := ctxlog.FromContext(ctx)
	boff := newBackoff(c.cfg.MinBackoff, c.cfg.MaxBackoff)
	attempts := 0
	refreshed := false
	var lastTransient error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		resp, err := c.request(ctx, method, path, body)

		var retryAfter time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastTransient = err

		case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(resp.Bytes(), out); err != nil {
				return fmt.Errorf("decode %s %s response: %w", method, path, err)
			}
			return nil

		case resp.StatusCode() == http.StatusUnauthorized:
			if refreshed {
				return &AuthError{Err: apiError(resp)}
			}
			tok, rerr := c.tokens.RefreshToken(ctx, c.cfg.UserID)
			if rerr != nil {
				return &AuthError{Err: fmt.Errorf("token refresh: %w", rerr)}
			}
			logger.Debug("Credential refreshed after 401, retrying once.", "path", path)
			c.setToken(tok)
			refreshed = true
			continue

		case resp.StatusCode() == http.StatusTooManyRequests:
			apiErr := apiError(resp)
			apiErr.RetryAfter = parseRetryAfter(resp)
			retryAfter = apiErr.RetryAfter
			lastTransient = apiErr

		case resp.StatusCode() >= 500:
			lastTransient = apiError(resp)

		default:
			return apiError(resp)
		}

		if attempts >= c.cfg.MaxAttempts {
			return &TransientError{Attempts: attempts, Err: lastTransient}
		}
		logger.Debug("Transient engine failure, backing off.", "path", path, "attempt", attempts, "error", lastTransient)
		if err := boff.wait(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*resty.Response, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.currentToken())
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return r.Execute(method, path)
}

func apiError(resp *resty.Response) *APIError {
	msg := strings.TrimSpace(resp.String())
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

// parseRetryAfter reads the Retry-After header as delay seconds; absent or
// malformed values mean no floor.
func parseRetryAfter(resp *resty.Response) time.Duration {
	v := resp.Header().Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsTransient reports whether an error from the client is transient-class:
// either an exhausted retry loop or a directly transient API failure.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Transient()
}
