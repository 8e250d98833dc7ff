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

const gridOpName = "grid_operator"

// GridOpOption configures the grid operator client.
type GridOpOption func(*GridOpClient)

// WithGridOpBaseURL overrides the registry base URL.
func WithGridOpBaseURL(url string) GridOpOption {
	return func(c *GridOpClient) {
		c.baseURL = url
	}
}

// WithGridOpHTTPClient overrides the default http.Client.
func WithGridOpHTTPClient(hc *http.Client) GridOpOption {
	return func(c *GridOpClient) {
		c.http = hc
	}
}

// WithGridOpRateLimit sets the requests-per-second limit for registry calls.
func WithGridOpRateLimit(rps float64) GridOpOption {
	return func(c *GridOpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// GridOpClient queries the grid operator's settlement-territory registry.
// The registry knows every ESI-ID footprint in the interconnection, so it
// answers for most in-region codes with high confidence.
type GridOpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewGridOp creates a grid operator registry client.
func NewGridOp(baseURL string, opts ...GridOpOption) *GridOpClient {
	c := &GridOpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *GridOpClient) Name() string {
	return gridOpName
}

// gridOpResponse is the registry's territory record for a ZIP code.
type gridOpResponse struct {
	Zip         string `json:"zip"`
	CitySlug    string `json:"city_slug"`
	CityName    string `json:"city_name"`
	UtilityID   string `json:"duns"`
	UtilityName string `json:"utility_name"`
	Market      string `json:"market"`
	Confidence  int    `json:"confidence"`
}

func (c *GridOpClient) Validate(ctx context.Context, zip model.ZipCode) (*model.Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(gridOpName, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/territories/"+zip.String(), nil)
	if err != nil {
		return nil, NewError(gridOpName, KindUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(gridOpName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(gridOpName, KindMalformed, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError(gridOpName, KindNotCovered, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewError(gridOpName, KindUnreachable, statusError(resp.StatusCode, body))
	}

	var out gridOpResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewError(gridOpName, KindMalformed, err)
	}
	if out.CitySlug == "" || out.UtilityID == "" {
		return nil, NewError(gridOpName, KindMalformed, errMissingFields)
	}

	market := model.MarketDeregulated
	if out.Market == "regulated" {
		market = model.MarketRegulated
	}

	return &model.Candidate{
		Provider:        gridOpName,
		CitySlug:        out.CitySlug,
		CityDisplayName: out.CityName,
		UtilityID:       out.UtilityID,
		UtilityName:     out.UtilityName,
		MarketType:      market,
		RawConfidence:   clampConfidence(out.Confidence, 90),
		ResponseTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}
