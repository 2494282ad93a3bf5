package d365

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryPolicy bounds the retries made for a single operation. The wait before
// retry n (starting at 1) is BackoffUnit * BackoffBase^n.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffBase    float64
	BackoffUnit    time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns three attempts with waits of 2s and 4s and a 60s
// per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BackoffBase:    2,
		BackoffUnit:    time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Validate checks the policy can produce a bounded, strictly increasing
// backoff sequence.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BackoffBase <= 1 {
		return fmt.Errorf("backoff base must be greater than 1, got %g", p.BackoffBase)
	}
	if p.BackoffUnit <= 0 {
		return fmt.Errorf("backoff unit must be positive, got %s", p.BackoffUnit)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %s", p.AttemptTimeout)
	}
	return nil
}

// Backoff returns the wait after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(p.BackoffBase, float64(attempt)) * float64(p.BackoffUnit))
}

// RetryState tracks one logical operation: a single page fetch or a single
// create. It is carried in the request context and never shared.
type RetryState struct {
	Attempts int
	Last     Classification
	Backoff  time.Duration
}

type retryStateKey struct{}

func withRetryState(ctx context.Context, st *RetryState) context.Context {
	return context.WithValue(ctx, retryStateKey{}, st)
}

// retryStateFrom returns the operation's state, or a throwaway state for
// requests made outside execute.
func retryStateFrom(ctx context.Context) *RetryState {
	if st, ok := ctx.Value(retryStateKey{}).(*RetryState); ok {
		return st
	}
	return &RetryState{}
}

// classifyStatus maps an HTTP status to a Classification. Whether a 2xx is the
// success the caller wanted is decided by the caller.
func classifyStatus(status int) Classification {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500:
		return ServerError
	case status >= 400:
		return ClientError
	}
	return UnexpectedStatus
}

// classifyError maps a transport error to a timeout or connection failure.
func classifyError(err error) Classification {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return TimeoutError
	}
	return ConnectionError
}

// checkRetry is the retryablehttp.CheckRetry hook. It counts the attempt,
// records its classification, and decides between another attempt and
// returning to execute for a final verdict.
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	st := retryStateFrom(ctx)
	st.Attempts++

	// The body is read here, inside the attempt's timeout, so that a stall
	// or dropped connection mid-body is retried like any transport failure.
	if err == nil && resp != nil {
		if rerr := bufferBody(resp); rerr != nil {
			err = rerr
		}
	}

	var what string
	if err != nil {
		st.Last = classifyError(err)
		what = fmt.Sprintf("%s: %v", st.Last, err)
	} else {
		st.Last = classifyStatus(resp.StatusCode)
		what = fmt.Sprintf("HTTP %d %s", resp.StatusCode, st.Last)
	}

	if !st.Last.Retryable() {
		return false, nil
	}
	if st.Attempts >= c.policy.MaxAttempts {
		c.log.Error(fmt.Sprintf("%s: giving up (attempt %d/%d)", what, st.Attempts, c.policy.MaxAttempts))
		return false, nil
	}

	st.Backoff = c.policy.Backoff(st.Attempts)
	c.log.Warn(fmt.Sprintf("%s: retrying in %s (attempt %d/%d)", what, st.Backoff, st.Attempts, c.policy.MaxAttempts))
	return true, nil
}

// backoff is the retryablehttp.Backoff hook. retryablehttp counts attempts
// from zero.
func (c *Client) backoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	return c.policy.Backoff(attemptNum + 1)
}

// bodyReadError reports a response whose body could not be read in full.
type bodyReadError struct {
	err error
}

func (e *bodyReadError) Error() string {
	return "failed to read response body: " + e.err.Error()
}

func (e *bodyReadError) Unwrap() error {
	return e.err
}

// failedBody replays a body read error to the eventual reader.
type failedBody struct {
	err error
}

func (f failedBody) Read([]byte) (int, error) { return 0, f.err }

func (f failedBody) Close() error { return nil }

// bufferBody reads and closes resp.Body, replacing it with an in-memory copy.
// On a read error the replacement returns that error.
func bufferBody(resp *http.Response) error {
	b, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		rerr := &bodyReadError{err: err}
		resp.Body = failedBody{err: rerr}
		return rerr
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return nil
}
