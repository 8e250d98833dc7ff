package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/territory-engine/internal/model"
)

// UtilityConfig identifies one distribution utility's self-service lookup.
type UtilityConfig struct {
	// Slug is the provider name recorded in audit logs, e.g. "tdu_oncor".
	Slug string `yaml:"slug" mapstructure:"slug"`
	// UtilityID is the utility's DUNS identifier.
	UtilityID string `yaml:"utility_id" mapstructure:"utility_id"`
	// UtilityName is the display name, e.g. "Oncor Electric Delivery".
	UtilityName string `yaml:"utility_name" mapstructure:"utility_name"`
	// BaseURL is the utility's coverage API endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// Deregulated marks whether the utility operates in the choice market.
	Deregulated bool `yaml:"deregulated" mapstructure:"deregulated"`
}

// UtilityOption configures a distribution utility client.
type UtilityOption func(*UtilityClient)

// WithUtilityHTTPClient overrides the default http.Client.
func WithUtilityHTTPClient(hc *http.Client) UtilityOption {
	return func(c *UtilityClient) {
		c.http = hc
	}
}

// WithUtilityRateLimit sets the requests-per-second limit.
func WithUtilityRateLimit(rps float64) UtilityOption {
	return func(c *UtilityClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// UtilityClient queries one distribution utility's own coverage lookup.
// A utility is authoritative for its own wires, so an in-footprint answer
// carries high confidence, but each utility only knows its own territory.
type UtilityClient struct {
	cfg     UtilityConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewUtility creates a client for a single distribution utility.
func NewUtility(cfg UtilityConfig, opts ...UtilityOption) *UtilityClient {
	c := &UtilityClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: 4 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *UtilityClient) Name() string {
	return c.cfg.Slug
}

// utilityResponse is the coverage lookup result.
type utilityResponse struct {
	Covered  bool   `json:"covered"`
	CitySlug string `json:"city_slug"`
	CityName string `json:"city_name"`
}

func (c *UtilityClient) Validate(ctx context.Context, zip model.ZipCode) (*model.Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(c.cfg.Slug, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/coverage/"+zip.String(), nil)
	if err != nil {
		return nil, NewError(c.cfg.Slug, KindUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(c.cfg.Slug, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(c.cfg.Slug, KindMalformed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(c.cfg.Slug, KindUnreachable, statusError(resp.StatusCode, body))
	}

	var out utilityResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewError(c.cfg.Slug, KindMalformed, err)
	}
	if !out.Covered {
		return nil, NewError(c.cfg.Slug, KindNotCovered, nil)
	}
	if out.CitySlug == "" {
		return nil, NewError(c.cfg.Slug, KindMalformed, errMissingFields)
	}

	market := model.MarketRegulated
	if c.cfg.Deregulated {
		market = model.MarketDeregulated
	}

	return &model.Candidate{
		Provider:        c.cfg.Slug,
		CitySlug:        out.CitySlug,
		CityDisplayName: out.CityName,
		UtilityID:       c.cfg.UtilityID,
		UtilityName:     c.cfg.UtilityName,
		MarketType:      market,
		RawConfidence:   95,
		ResponseTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}
