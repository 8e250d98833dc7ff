package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-engine/internal/model"
)

func TestGridOpValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/territories/75201", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"zip": "75201",
			"city_slug": "dallas",
			"city_name": "Dallas",
			"duns": "1039940674000",
			"utility_name": "Oncor Electric Delivery",
			"market": "deregulated",
			"confidence": 92
		}`))
	}))
	defer srv.Close()

	c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
	cand, err := c.Validate(context.Background(), "75201")
	require.NoError(t, err)

	assert.Equal(t, "grid_operator", cand.Provider)
	assert.Equal(t, "dallas", cand.CitySlug)
	assert.Equal(t, "Dallas", cand.CityDisplayName)
	assert.Equal(t, "1039940674000", cand.UtilityID)
	assert.Equal(t, model.MarketDeregulated, cand.MarketType)
	assert.Equal(t, 92, cand.RawConfidence)
	assert.GreaterOrEqual(t, cand.ResponseTimeMs, int64(0))
}

func TestGridOpValidateDefaultConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"city_slug": "dallas", "duns": "103", "market": "regulated"}`))
	}))
	defer srv.Close()

	c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
	cand, err := c.Validate(context.Background(), "75201")
	require.NoError(t, err)

	assert.Equal(t, 90, cand.RawConfidence)
	assert.Equal(t, model.MarketRegulated, cand.MarketType)
}

func TestGridOpValidateNotCovered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
	_, err := c.Validate(context.Background(), "10001")
	require.Error(t, err)
	assert.Equal(t, KindNotCovered, KindOf(err))
	assert.True(t, IsNotCovered(err))
}

func TestGridOpValidateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
	_, err := c.Validate(context.Background(), "75201")
	require.Error(t, err)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Contains(t, err.Error(), "502")
}

func TestGridOpValidateMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>maintenance</html>`},
		{name: "missing city slug", body: `{"duns": "103"}`},
		{name: "missing utility id", body: `{"city_slug": "dallas"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
			_, err := c.Validate(context.Background(), "75201")
			require.Error(t, err)
			assert.Equal(t, KindMalformed, KindOf(err))
		})
	}
}

func TestGridOpValidateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewGridOp(srv.URL, WithGridOpHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Validate(ctx, "75201")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestGridOpName(t *testing.T) {
	assert.Equal(t, "grid_operator", NewGridOp("http://example.com").Name())
}
