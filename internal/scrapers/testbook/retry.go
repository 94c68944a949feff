package testbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pyqfetch/internal/components/chrono"
)

var (
	// ErrRateLimited is the transient outcome of a 429 response.
	ErrRateLimited = errors.New("rate limited")
	// ErrGaveUp is returned once every attempt of a RetryPolicy was spent on transient failures.
	ErrGaveUp = errors.New("gave up after retries")
)

// StatusError is a permanent upstream failure, it is never retried.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Status, http.StatusText(e.Status))
}

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
	}
}

// Delay is the wait after the zero-based attempt failed transiently: BaseDelay * 2^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomePermanent
)

// classify decides what a single attempt's response means. The error it
// returns explains the outcome when it is not a success.
func classify(status int, body []byte, err error) (outcome, error) {
	if err != nil {
		return outcomeRetry, err
	}
	switch {
	case status == http.StatusOK:
		if !json.Valid(body) {
			return outcomeRetry, fmt.Errorf("invalid json body (%d bytes)", len(body))
		}
		return outcomeSuccess, nil
	case status == http.StatusTooManyRequests:
		return outcomeRetry, ErrRateLimited
	default:
		return outcomePermanent, &StatusError{Status: status}
	}
}

// Doer performs a single GET and reports the status code and body.
//
// note: fault injection point
type Doer interface {
	Do(ctx context.Context, url string) (status int, body []byte, err error)
}

// Backoff describes one wait between attempts.
type Backoff struct {
	Attempt int
	Wait    time.Duration
	Cause   error
}

// BackoffObserver is told about every backoff before the wait starts.
type BackoffObserver func(Backoff)

type retrier struct {
	doer   Doer
	clock  chrono.API
	policy RetryPolicy
}

// fetch runs the retry state machine for url. On success it returns the body,
// otherwise a nil payload and the reason. ctx cancellation interrupts backoff.
func (r retrier) fetch(ctx context.Context, url string, observe BackoffObserver) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxRetries; attempt++ {
		status, body, err := r.doer.Do(ctx, url)
		result, reason := classify(status, body, err)
		switch result {
		case outcomeSuccess:
			return json.RawMessage(body), nil
		case outcomePermanent:
			return nil, reason
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = reason
		wait := r.policy.Delay(attempt)
		if observe != nil {
			observe(Backoff{Attempt: attempt, Wait: wait, Cause: reason})
		}
		err = r.clock.Sleep(ctx, wait)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (%d attempts): %w", ErrGaveUp, r.policy.MaxRetries, lastErr)
}
