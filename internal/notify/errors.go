// Package notify delivers availability messages to users, classifies
// delivery failures and drives the post-delivery feedback lifecycle.
package notify

import (
	"errors"
	"fmt"
	"time"
)

// ErrForbidden marks a permanent delivery failure: the recipient cannot
// be reached by direct message until they re-enable it themselves.
var ErrForbidden = errors.New("direct delivery forbidden")

// RateLimitedError marks a transient delivery failure. RetryAfter is
// the wait the messaging platform asked for, zero if unspecified.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
