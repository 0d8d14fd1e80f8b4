package brokerage

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/governor"
)

const (
	maxServerErrorAttempts = 3
	baseBackoff            = 200 * time.Millisecond
	maxBackoff             = 4 * time.Second
)

// tokenExpiredCode and rateLimitCode are the broker's own error codes,
// distinct from HTTP status, surfaced in apiError.Code.
const (
	tokenExpiredCode = "token_expired"
	rateLimitCode    = "rate_limit"
)

// refresher is the subset of token.Manager the retry loop needs.
type refresher interface {
	ForceRefresh(ctx context.Context) error
	GetValidToken(ctx context.Context) (string, error)
}

// withRetry applies the uniform retry policy around call, which performs
// one attempt and returns its own apiError on failure so classification
// is possible. accessToken retrieval and refresh-on-expiry are handled
// here so every typed operation gets the policy for free. gov is acquired
// immediately before every actual HTTP issuance, including retries, so a
// logical operation that retries never counts for less than the requests
// it actually sends.
func withRetry(ctx context.Context, log zerolog.Logger, gov *governor.Governor, tokens refresher, call func(ctx context.Context, accessToken string) (map[string]any, error)) (map[string]any, error) {
	accessToken, err := tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	refreshedOnce := false
	for attempt := 0; attempt < maxServerErrorAttempts; attempt++ {
		if err := gov.Acquire(ctx); err != nil {
			return nil, err
		}
		result, err := call(ctx, accessToken)
		if err == nil {
			return result, nil
		}

		var apiErr *apiError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		switch {
		case apiErr.Code == tokenExpiredCode && !refreshedOnce:
			refreshedOnce = true
			if rerr := tokens.ForceRefresh(ctx); rerr != nil {
				return nil, rerr
			}
			accessToken, err = tokens.GetValidToken(ctx)
			if err != nil {
				return nil, err
			}
			continue

		case apiErr.Code == rateLimitCode:
			log.Warn().Msg("broker reported rate limit, backing off")
			if !sleepWithJitter(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue

		case apiErr.HTTPStatus >= 500:
			if attempt == maxServerErrorAttempts-1 {
				return nil, err
			}
			if !sleepWithJitter(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue

		case apiErr.HTTPStatus >= 400 && apiErr.HTTPStatus != http.StatusUnauthorized:
			return nil, err

		default:
			return nil, err
		}
	}
	return nil, errors.New("brokerage: exhausted retry attempts")
}

func sleepWithJitter(ctx context.Context, attempt int) bool {
	backoff := time.Duration(math.Min(float64(maxBackoff), float64(baseBackoff)*math.Pow(2, float64(attempt))))
	jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
	select {
	case <-time.After(backoff + jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
