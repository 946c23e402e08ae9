// Package requester executes single HTTP calls with bounded exponential
// backoff and rate-limit aware retries. It is the only package in gamesync
// that performs raw HTTP I/O.
package requester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/log"
	"github.com/cybertec-postgresql/gamesync/internal/retry"
	"github.com/cybertec-postgresql/gamesync/internal/syncerr"
)

// DefaultHTTPTimeout is applied to clients created by New when none is given
const DefaultHTTPTimeout = 30 * time.Second

// MaxRetryAfter caps a server-supplied Retry-After delay
const MaxRetryAfter = 10 * time.Minute

// maxBodySize bounds how much of a response body is read into memory
const maxBodySize = 16 << 20

// Doer is satisfied by *http.Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one HTTP call. Body is re-sent on every attempt.
type Request struct {
	Op     string // operation name for logs and errors
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Requester issues requests with a retry policy
type Requester struct {
	client      Doer
	policy      *retry.Config
	sleep       retry.SleepFunc
	logger      logrus.FieldLogger
	rateLimited map[int]bool
	now         func() time.Time
}

// Option configures a Requester
type Option func(*Requester)

// WithSleep replaces the backoff sleep, mainly for tests
func WithSleep(sleep retry.SleepFunc) Option {
	return func(r *Requester) { r.sleep = sleep }
}

// WithLogger sets the logger used for retry warnings
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Requester) { r.logger = logger }
}

// WithRateLimitStatus treats additional status codes like 429
func WithRateLimitStatus(codes ...int) Option {
	return func(r *Requester) {
		for _, c := range codes {
			r.rateLimited[c] = true
		}
	}
}

// New creates a Requester. A nil client gets an *http.Client with DefaultHTTPTimeout.
func New(client Doer, policy *retry.Config, opts ...Option) *Requester {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if policy == nil {
		policy = retry.StoreDefaults()
	}
	r := &Requester{
		client:      client,
		policy:      policy,
		sleep:       retry.Sleep,
		rateLimited: map[int]bool{http.StatusTooManyRequests: true},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrDiscard(r.logger)
	return r
}

// Policy returns the retry policy in use
func (r *Requester) Policy() retry.Config {
	return *r.policy
}

// Execute issues req, retrying rate-limited and transport failures.
// Authentication failures and any other non-success status are returned
// immediately.
func (r *Requester) Execute(ctx context.Context, req Request) (*Response, error) {
	backoff := r.policy.CreateBackoff()
	logger := r.logger.WithFields(logrus.Fields{"operation": req.Op, "method": req.Method})

	for attempt := 1; ; attempt++ {
		resp, err := r.do(ctx, req)

		var failure *syncerr.Error
		var wait time.Duration
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failure = &syncerr.Error{Kind: syncerr.KindTransport, Op: req.Op, Err: err}
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case r.rateLimited[resp.StatusCode]:
			failure = &syncerr.Error{Kind: syncerr.KindRateLimitExceeded, Op: req.Op, Status: resp.StatusCode}
			wait = retryAfter(resp.Header, r.now())
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &syncerr.Error{Kind: syncerr.KindAuthFailure, Op: req.Op, Status: resp.StatusCode, Body: snippet(resp.Body)}
		default:
			return nil, syncerr.UnexpectedStatus(req.Op, resp.StatusCode, snippet(resp.Body))
		}

		next, stop := backoff.Next()
		if stop {
			failure.Attempts = attempt
			logger.WithError(failure).Error("Retries exhausted")
			return nil, failure
		}
		if wait == 0 {
			wait = next
		} else if r.policy.MaxDelay > 0 && wait > r.policy.MaxDelay {
			wait = r.policy.MaxDelay
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    failure.Kind.String(),
			"delay":   wait,
		}).Warn("Request failed, retrying")

		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (r *Requester) do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// retryAfter parses a Retry-After header given as delta-seconds or an HTTP-date.
// It returns 0 when the header is absent or unusable and never more than MaxRetryAfter.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		switch {
		case math.IsNaN(secs) || secs <= 0:
			return 0
		case secs >= MaxRetryAfter.Seconds():
			return MaxRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return min(d, MaxRetryAfter)
		}
	}
	return 0
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// IsRetryable reports whether err is a transient failure class
func IsRetryable(err error) bool {
	return errors.Is(err, syncerr.ErrRateLimitExceeded) || errors.Is(err, syncerr.ErrTransport)
}
