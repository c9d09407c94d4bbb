package storage

import (
	"context"
	"time"
)

// DefaultDBTimeout bounds database operations whose context has no deadline
const DefaultDBTimeout = 5 * time.Second

// withTimeout adds timeout to ctx unless it already carries a deadline
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
