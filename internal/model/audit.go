package model

import "time"

// Audit error codes.
const (
	AuditErrInvalidFormat = "INVALID_ZIP_FORMAT"
	AuditErrOutOfRegion   = "NOT_IN_REGION"
	AuditErrNotFound      = "NOT_FOUND"
)

// AuditEntry is one append-only row per resolution attempt, success or
// failure. It feeds the metrics rollup and is never mutated.
type AuditEntry struct {
	ID               string    `json:"id"`
	ZipCode          string    `json:"zip_code"`
	RequestID        string    `json:"request_id"`
	SourcesQueried   []string  `json:"sources_queried"`
	ChosenSource     string    `json:"chosen_source,omitempty"`
	CacheHit         bool      `json:"cache_hit"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ErrorCode        string    `json:"error_code,omitempty"`
	ValidatedAt      time.Time `json:"validated_at"`
}

// ServiceMetrics is a rolling-window rollup computed from the audit log.
type ServiceMetrics struct {
	WindowHours   int               `json:"window_hours"`
	TotalRequests int               `json:"total_requests"`
	SuccessCount  int               `json:"success_count"`
	FailureCount  int               `json:"failure_count"`
	SuccessRate   float64           `json:"success_rate"`
	CacheHits     int               `json:"cache_hits"`
	CacheHitRate  float64           `json:"cache_hit_rate"`
	FallbackCount int               `json:"fallback_count"`
	AvgLatencyMs  float64           `json:"avg_latency_ms"`
	BreakerStates map[string]string `json:"breaker_states,omitempty"`
	CollectedAt   time.Time         `json:"collected_at"`
}

// BulkItem is the outcome for a single ZIP within a bulk resolution.
type BulkItem struct {
	ZipCode    string      `json:"zip_code"`
	Success    bool        `json:"success"`
	Resolution *Resolution `json:"resolution,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// BulkResult accumulates per-item outcomes plus a summary. A single item's
// failure never aborts the batch, so Items always has one entry per input.
type BulkResult struct {
	Items                 []BulkItem `json:"items"`
	TotalRequested        int        `json:"total_requested"`
	SuccessCount          int        `json:"success_count"`
	FailureCount          int        `json:"failure_count"`
	AverageConfidence     float64    `json:"average_confidence"`
	TotalProcessingTimeMs int64      `json:"total_processing_time_ms"`
}
