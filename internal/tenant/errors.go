package tenant

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a tenant id resolves to nothing.
var ErrNotFound = errors.New("tenant not found")

// ErrInactive is returned when a tenant exists but may not process work.
var ErrInactive = errors.New("tenant is not active")

// LimitError is a hard quota breach. The triggering operation fails.
type LimitError struct {
	TenantID string
	Metric   string
	Limit    int
	Used     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tenant %s exceeded %s quota: %d/%d", e.TenantID, e.Metric, e.Used, e.Limit)
}

// RateLimitedError is a token-bucket denial.
type RateLimitedError struct {
	TenantID string
	PerMin   int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("tenant %s rate limited (%d req/min)", e.TenantID, e.PerMin)
}
