package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/territory-engine/internal/model"
)

const regulatorName = "state_regulator"

// RegulatorOption configures the state regulator directory client.
type RegulatorOption func(*RegulatorClient)

// WithRegulatorHTTPClient overrides the default http.Client.
func WithRegulatorHTTPClient(hc *http.Client) RegulatorOption {
	return func(c *RegulatorClient) {
		c.http = hc
	}
}

// WithRegulatorRateLimit sets the requests-per-second limit.
func WithRegulatorRateLimit(rps float64) RegulatorOption {
	return func(c *RegulatorClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// RegulatorClient queries the state regulator's certified-territory
// directory. The directory search matches ZIP codes against certified
// service areas and reports the match quality.
type RegulatorClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewRegulator creates a regulator directory client. The directory requires
// an API key passed in the X-Api-Key header.
func NewRegulator(baseURL, apiKey string, opts ...RegulatorOption) *RegulatorClient {
	c := &RegulatorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
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

func (c *RegulatorClient) Name() string {
	return regulatorName
}

// regulatorResponse is the directory search result.
type regulatorResponse struct {
	Results []struct {
		CitySlug    string `json:"city_slug"`
		CityName    string `json:"city_name"`
		UtilityID   string `json:"certificate_holder_id"`
		UtilityName string `json:"certificate_holder"`
		Deregulated bool   `json:"customer_choice"`
		Match       string `json:"match"` // "exact" or "partial"
	} `json:"results"`
}

func (c *RegulatorClient) Validate(ctx context.Context, zip model.ZipCode) (*model.Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(regulatorName, err)
	}

	start := time.Now()
	q := url.Values{"zip": {zip.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/directory/search?"+q.Encode(), nil)
	if err != nil {
		return nil, NewError(regulatorName, KindUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(regulatorName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(regulatorName, KindMalformed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(regulatorName, KindUnreachable, statusError(resp.StatusCode, body))
	}

	var out regulatorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewError(regulatorName, KindMalformed, err)
	}
	if len(out.Results) == 0 {
		return nil, NewError(regulatorName, KindNotCovered, nil)
	}

	// The directory orders results by match quality; take the best.
	best := out.Results[0]
	if best.CitySlug == "" || best.UtilityID == "" {
		return nil, NewError(regulatorName, KindMalformed, errMissingFields)
	}

	confidence := 85
	if best.Match != "exact" {
		confidence = 60
	}
	market := model.MarketRegulated
	if best.Deregulated {
		market = model.MarketDeregulated
	}

	return &model.Candidate{
		Provider:        regulatorName,
		CitySlug:        best.CitySlug,
		CityDisplayName: best.CityName,
		UtilityID:       best.UtilityID,
		UtilityName:     best.UtilityName,
		MarketType:      market,
		RawConfidence:   confidence,
		ResponseTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}
