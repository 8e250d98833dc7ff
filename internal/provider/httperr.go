package provider

import (
	"context"
	"errors"
	"net"

	"github.com/rotisserie/eris"
)

var errMissingFields = errors.New("response missing required fields")

// statusError describes an unexpected HTTP status with a body excerpt.
func statusError(code int, body []byte) error {
	excerpt := string(body)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return eris.Errorf("unexpected status %d: %s", code, excerpt)
}

// clampConfidence bounds a provider-reported score to 0..100, substituting
// def when the provider reported nothing.
func clampConfidence(c, def int) int {
	if c <= 0 {
		return def
	}
	if c > 100 {
		return 100
	}
	return c
}

// classifyTransport maps a transport-level error from http.Client.Do to a
// provider error kind. Deadline expiry counts as a timeout whether it came
// from the request context or the client's own timeout.
func classifyTransport(name string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(name, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(name, KindTimeout, err)
	}
	return NewError(name, KindUnreachable, err)
}
