// Package remote is the client for the analytics data-query endpoint.
//
// Every call is context-aware and passes through a shared rate limiter.
// Read calls retry on 429 and 5xx with exponential backoff; write calls
// (batch session writes, mock exam writes) are sent once.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/studyboard/internal/model"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultRate       = 10 // requests per second
	DefaultBurst      = 5
	DefaultMaxRetries = 2
	DefaultBackoff    = time.Second

	maxRetryAfter = 30 * time.Second
	maxBodySize   = 8 << 20
	userAgent     = "studyboard/1.0"
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Rate       float64
	Burst      int
	MaxRetries int // negative disables retries
	Backoff    time.Duration
	HTTPClient *http.Client
}

// Client talks to one analytics backend.
type Client struct {
	base       *url.URL
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// New builds a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		base:       base,
		http:       hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// EventsURL returns the websocket URL of userID's push channel.
func (c *Client) EventsURL(userID string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	prefix := strings.TrimRight(u.Path, "/") + "/api/analytics/ws/"
	u.Path = prefix + userID
	u.RawPath = prefix + url.PathEscape(userID)
	return u.String()
}

// Sessions queries session records in the filter scope.
func (c *Client) Sessions(ctx context.Context, f model.Filter) ([]model.Session, error) {
	var out SessionsBody
	if err := c.do(ctx, http.MethodPost, PathSessions, nil, f, &out, true); err != nil {
		return nil, err
	}
	return nonNil(out.Sessions), nil
}

// Weaknesses returns the backend's weakness analysis for userID.
func (c *Client) Weaknesses(ctx context.Context, userID string) ([]model.WeaknessPattern, error) {
	var out WeaknessesBody
	q := url.Values{"userId": {userID}}
	if err := c.do(ctx, http.MethodGet, PathWeakness, q, nil, &out, true); err != nil {
		return nil, err
	}
	return nonNil(out.Weaknesses), nil
}

// MockExams returns userID's mock exam results.
func (c *Client) MockExams(ctx context.Context, userID string) ([]model.MockExamResult, error) {
	var out ExamsBody
	q := url.Values{"userId": {userID}}
	if err := c.do(ctx, http.MethodGet, PathMockExams, q, nil, &out, true); err != nil {
		return nil, err
	}
	return nonNil(out.Exams), nil
}

// Metrics returns progress metrics for the filter scope.
func (c *Client) Metrics(ctx context.Context, f model.Filter) (model.ProgressMetrics, error) {
	var out MetricsBody
	if err := c.do(ctx, http.MethodPost, PathMetrics, nil, f, &out, true); err != nil {
		return model.ProgressMetrics{}, err
	}
	return out.Metrics, nil
}

// Analyze asks the backend for a progress report over sessions.
func (c *Client) Analyze(ctx context.Context, userID string, sessions []model.Session) (model.ProgressReport, error) {
	var out AnalyzeBody
	in := AnalyzeRequest{UserID: userID, Sessions: nonNil(sessions)}
	if err := c.do(ctx, http.MethodPost, PathAnalyze, nil, in, &out, true); err != nil {
		return model.ProgressReport{}, err
	}
	return out.Result, nil
}

// SaveSessions writes sessions in one batch. The stored records come back
// in input order with IDs and timestamps assigned.
func (c *Client) SaveSessions(ctx context.Context, sessions []model.Session) ([]model.Session, error) {
	var out SessionsBody
	in := SessionsBody{Sessions: nonNil(sessions)}
	if err := c.do(ctx, http.MethodPost, PathSessionBatch, nil, in, &out, false); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SaveMockExam stores one exam result.
func (c *Client) SaveMockExam(ctx context.Context, exam model.MockExamResult) (model.MockExamResult, error) {
	var out model.MockExamResult
	if err := c.do(ctx, http.MethodPost, PathMockExamWrite, nil, exam, &out, false); err != nil {
		return model.MockExamResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any, retry bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: marshal request: %w", err)
		}
		body = b
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	endpoint := u.String()

	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("remote: rate limiter: %w", err)
		}

		data, delay, err := c.roundTrip(ctx, method, endpoint, body)
		if err == nil {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("remote: decode %s: %w", path, err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("remote: %s %s cancelled: %w", method, path, ctx.Err())
		}
		lastErr = err
		if !retryable(err) || attempt == attempts-1 {
			break
		}

		if delay <= 0 {
			delay = c.backoff << attempt
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// roundTrip sends one request. The returned delay is the server's
// Retry-After hint, if any.
func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body []byte) ([]byte, time.Duration, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, 0, nil
	}
	return nil, retryAfter(resp), newStatusError(method, endpoint, resp.StatusCode, data)
}

func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxRetryAfter)
}

func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
