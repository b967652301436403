package httpapi

import "github.com/ahammedyusufb/exsa-engine/internal/apperr"

func rateLimitedError() error {
	return apperr.New(apperr.KindRateLimited, "rate limit exceeded, slow down and retry")
}
