package ratelimit

import "context"

// RateLimiter throttles calls against the fax backend API per operation
// (e.g. create_job). Backend providers enforce per-account API quotas; the
// limiter keeps the engine under them.
type RateLimiter interface {
	Allow(ctx context.Context, operation string) (bool, error)
	Wait(ctx context.Context, operation string) error
}

// Backend API operations subject to rate limiting.
const (
	OpCreateJob = "create_job"
	OpUpload    = "upload_attachment"
)
