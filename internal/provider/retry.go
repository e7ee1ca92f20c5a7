package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/eclia/gateway/internal/apperror"
)

// retryPolicy returns the ambient-resilience backoff described in spec §4.5:
// 3 attempts, 1s initial, 30s max interval, 2 minutes max elapsed.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// isTransient classifies an upstream failure as retryable: network errors
// and 429/5xx HTTP responses. 4xx other than 429 is not retried.
func isTransient(err error) bool {
	var httpErr *apperror.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	var netErr *apperror.UpstreamNetworkError
	return errors.As(err, &netErr)
}

// streamTurnWithRetry drives fn with the ambient retry policy, surfacing the
// last error unwrapped when retries are exhausted or the failure is
// non-transient.
func streamTurnWithRetry(ctx context.Context, fn func() (StreamResult, error)) (StreamResult, error) {
	var result StreamResult
	op := func() error {
		r, err := fn()
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return StreamResult{}, permanent.Err
		}
		return StreamResult{}, err
	}
	return result, nil
}
