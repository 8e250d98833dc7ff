package resilience

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-engine/internal/provider"
)

func tripErr() error {
	return provider.NewError("grid_operator", provider.KindUnreachable, eris.New("down"))
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		cb.Record(tripErr())
		require.NoError(t, cb.Allow())
	}

	cb.Record(tripErr())
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitSuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	cb.Record(tripErr())
	cb.Record(tripErr())
	cb.Record(nil)
	cb.Record(tripErr())
	cb.Record(tripErr())

	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitNotCoveredDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 10; i++ {
		cb.Record(provider.NewError("grid_operator", provider.KindNotCovered, nil))
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	cb.Record(tripErr())
	require.Error(t, cb.Allow())

	// After the reset timeout a single probe is allowed.
	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Probe success closes the circuit.
	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	cb.Record(tripErr())
	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow())

	cb.Record(tripErr())
	require.Error(t, cb.Allow())
}

func TestCircuitReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	cb.Record(tripErr())
	require.Error(t, cb.Allow())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.Record(tripErr())
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestProviderBreakers(t *testing.T) {
	pb := NewProviderBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	a := pb.Get("grid_operator")
	assert.Same(t, a, pb.Get("grid_operator"))

	a.Record(tripErr())
	pb.Get("state_regulator")

	states := pb.States()
	assert.Equal(t, "open", states["grid_operator"])
	assert.Equal(t, "closed", states["state_regulator"])
}
