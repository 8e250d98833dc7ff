package model

import "time"

// MarketType classifies a service territory by retail choice availability.
type MarketType string

const (
	MarketDeregulated MarketType = "deregulated"
	MarketRegulated   MarketType = "regulated"
)

// Data sources recorded on a Resolution.
const (
	SourceFallbackNearest = "fallback_nearest"
)

// Candidate is one provider's opinion about a ZIP code. Candidates are
// produced per call and only persisted inside the audit log.
type Candidate struct {
	Provider        string     `json:"provider"`
	CitySlug        string     `json:"city_slug"`
	CityDisplayName string     `json:"city_display_name"`
	UtilityID       string     `json:"utility_id"`
	UtilityName     string     `json:"utility_name"`
	MarketType      MarketType `json:"market_type"`
	RawConfidence   int        `json:"raw_confidence"`
	ResponseTimeMs  int64      `json:"response_time_ms"`
}

// Conflict records a dissenting candidate group that lost conflict
// resolution. Retained for audit only; never overrides the canonical choice.
type Conflict struct {
	Provider   string `json:"provider"`
	CitySlug   string `json:"city_slug"`
	UtilityID  string `json:"utility_id"`
	Confidence int    `json:"confidence"`
}

// Resolution is the canonical, persisted answer for a ZIP code. Upserted on
// every successful resolution; logically expires when now passes
// NextRevalidationAt, but the stale row remains usable as a fallback source
// until replaced.
type Resolution struct {
	ZipCode            ZipCode    `json:"zip_code"`
	CitySlug           string     `json:"city_slug"`
	CityDisplayName    string     `json:"city_display_name"`
	UtilityID          string     `json:"utility_id"`
	UtilityName        string     `json:"utility_name"`
	MarketType         MarketType `json:"market_type"`
	Confidence         int        `json:"confidence"`
	DataSource         string     `json:"data_source"`
	ResolvedAt         time.Time  `json:"resolved_at"`
	NextRevalidationAt time.Time  `json:"next_revalidation_at"`
	Conflicts          []Conflict `json:"conflicts,omitempty"`
}

// Expired reports whether the resolution is past its revalidation deadline.
func (r *Resolution) Expired(now time.Time) bool {
	return now.After(r.NextRevalidationAt)
}

// RedirectPath returns the rate-page path routing callers redirect to.
func (r *Resolution) RedirectPath() string {
	return "/electricity-rates/" + r.CitySlug
}

// RevalidationTTL maps a confidence score to how long the persisted answer
// stays fresh. Higher-confidence results get longer TTLs.
func RevalidationTTL(confidence int) time.Duration {
	switch {
	case confidence >= 90:
		return 30 * 24 * time.Hour
	case confidence >= 70:
		return 14 * 24 * time.Hour
	case confidence >= 50:
		return 7 * 24 * time.Hour
	default:
		return 3 * 24 * time.Hour
	}
}
