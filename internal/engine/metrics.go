package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-engine/internal/model"
)

// Metrics computes a rolling-window snapshot from the audit log: success
// rate, cache-hit rate, fallback rate, and average latency.
func (e *Engine) Metrics(ctx context.Context, lookbackHours int) (*model.ServiceMetrics, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	cutoff := e.nowFunc().Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := e.store.ListAuditSince(ctx, cutoff, 0)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list audit entries")
	}

	m := &model.ServiceMetrics{
		WindowHours: lookbackHours,
		CollectedAt: e.nowFunc().UTC(),
	}

	var latencySum int64
	for _, entry := range entries {
		m.TotalRequests++
		if entry.ErrorCode == "" {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		if entry.CacheHit {
			m.CacheHits++
		}
		if entry.ChosenSource == model.SourceFallbackNearest {
			m.FallbackCount++
		}
		latencySum += entry.ProcessingTimeMs
	}

	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests)
		m.CacheHitRate = float64(m.CacheHits) / float64(m.TotalRequests)
		m.AvgLatencyMs = float64(latencySum) / float64(m.TotalRequests)
	}
	if e.breakers != nil {
		m.BreakerStates = e.breakers.States()
	}
	return m, nil
}
