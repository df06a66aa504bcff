package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beobal/csp/internal/domain/interfaces/gateways"
)

// RetryPolicy controls retries of idempotent HTTP requests
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy retries up to 3 times, 1s, 2s, 4s apart (with jitter)
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     32 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		MaxRetries:      3,
	}
}

func (p RetryPolicy) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Multiplier = 2
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// StatusError is an unexpected HTTP response status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses
func (e *StatusError) Is(target error) bool {
	return target == gateways.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// newStatusError drains up to 4KB of the body for the message and closes it
func newStatusError(resp *http.Response) *StatusError {
	//nolint:errcheck // Best effort close
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// isRetryableStatus checks if an HTTP status code is retryable
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

var errBodyNotReplayable = errors.New("request body cannot be replayed for retry")

// requestFunc builds a fresh request for every attempt
type requestFunc func(ctx context.Context) (*http.Request, error)

// responseCheck inspects a response before the retry decision; a non-nil
// error stops retrying
type responseCheck func(resp *http.Response) error

// doWithRetry executes a request with exponential backoff. Network errors
// and retryable statuses are retried; any other response is returned as is.
func doWithRetry(ctx context.Context, client *http.Client, policy RetryPolicy, newRequest requestFunc, check responseCheck) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}

		if check != nil {
			if err := check(resp); err != nil {
				//nolint:errcheck,gosec // G104: Best effort close on check failure
				resp.Body.Close()
				return nil, backoff.Permanent(err)
			}
		}

		if isRetryableStatus(resp.StatusCode) {
			return nil, newStatusError(resp)
		}

		return resp, nil
	}

	resp, err := backoff.RetryWithData(operation, policy.newBackoff(ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// replayableBody returns a request body factory. Seekable readers are
// rewound for every attempt; other readers can be sent once only. The
// reader is never closed by the transport.
func replayableBody(content io.Reader) func() (io.Reader, error) {
	seeker, seekable := content.(io.Seeker)
	start := int64(0)
	if seekable {
		if pos, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			start = pos
		} else {
			seekable = false
		}
	}

	used := false
	return func() (io.Reader, error) {
		if !used {
			used = true
			return io.NopCloser(content), nil
		}
		if !seekable {
			return nil, errBodyNotReplayable
		}
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		return io.NopCloser(content), nil
	}
}
