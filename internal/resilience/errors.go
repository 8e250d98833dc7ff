package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/sells-group/territory-engine/internal/provider"
)

// IsRetryable reports whether a provider call error is worth retrying.
// Timeouts and unreachable providers are transient; an explicit NotCovered
// answer or a malformed body will not improve on retry. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	switch provider.KindOf(err) {
	case provider.KindNotCovered, provider.KindMalformed:
		return false
	case provider.KindTimeout:
		return true
	}

	// Unclassified network-level failures.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	return provider.KindOf(err) == provider.KindUnreachable
}
