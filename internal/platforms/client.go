package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// NewClient returns a resty client configured for provider API calls.
// Every request is bounded by the per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// getJSON performs an authenticated GET, retrying transient failures with
// bounded exponential backoff and classifying everything else into the
// provider error taxonomy.
func getJSON(ctx context.Context, client *resty.Client, platform, token, path string, query map[string]string, out interface{}) error {
	op := func() error {
		req := client.R().SetContext(ctx).SetAuthToken(token)
		if query != nil {
			req.SetQueryParams(query)
		}
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Get(path)
		if err != nil {
			return &TransientError{Platform: platform, Cause: err}
		}
		if err := errorForStatus(platform, resp); err != nil {
			var te *TransientError
			if errors.As(err, &te) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(newBackoff(), ctx))
}

func newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(bo, 3)
}

func errorForStatus(platform string, resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return &TokenExpiredError{Platform: platform}
	case code == http.StatusTooManyRequests:
		return &RateLimitedError{Platform: platform, RetryAfter: retryAfter(resp)}
	case code == http.StatusForbidden || code == http.StatusGone:
		return &PermanentError{Platform: platform, Cause: fmt.Errorf("status %d", code)}
	case code >= 500:
		return &TransientError{Platform: platform, Cause: fmt.Errorf("status %d", code)}
	default:
		return fmt.Errorf("%s: unexpected status %d", platform, code)
	}
}

func retryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}
