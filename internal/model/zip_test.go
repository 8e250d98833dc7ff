package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseZip(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ZipCode
		wantErr bool
	}{
		{name: "valid dallas", input: "75201", want: "75201"},
		{name: "valid leading zero", input: "07030", want: "07030"},
		{name: "too short", input: "1234", wantErr: true},
		{name: "too long", input: "752011", wantErr: true},
		{name: "letters", input: "7520a", wantErr: true},
		{name: "zip+4", input: "75201-1234", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace", input: " 7520", wantErr: true},
		{name: "unicode digits", input: "7520५", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseZip(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrInvalidFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestZipCodeNum(t *testing.T) {
	z, err := ParseZip("75201")
	require.NoError(t, err)
	assert.Equal(t, 75201, z.Num())

	z, err = ParseZip("00501")
	require.NoError(t, err)
	assert.Equal(t, 501, z.Num())
}

func TestZipCodeInRegion(t *testing.T) {
	tests := []struct {
		zip  string
		want bool
	}{
		{"75201", true},  // Dallas
		{"77002", true},  // Houston
		{"73301", true},  // Austin IRS range
		{"88510", true},  // El Paso annex
		{"79999", true},  // upper bound inclusive
		{"80000", false}, // just past upper bound
		{"74999", false}, // gap below main range
		{"73300", false},
		{"10001", false}, // New York
		{"90210", false},
	}

	for _, tt := range tests {
		t.Run(tt.zip, func(t *testing.T) {
			z, err := ParseZip(tt.zip)
			require.NoError(t, err)
			assert.Equal(t, tt.want, z.InRegion(TexasRegion))
		})
	}
}

func TestZipCodeInRegionUnrestricted(t *testing.T) {
	z, err := ParseZip("10001")
	require.NoError(t, err)
	assert.True(t, z.InRegion(nil))
	assert.True(t, z.InRegion([]ZipRange{}))
}

func TestZipCodePrefix3(t *testing.T) {
	z, err := ParseZip("75201")
	require.NoError(t, err)
	assert.Equal(t, "752", z.Prefix3())
}

func TestRevalidationTTL(t *testing.T) {
	tests := []struct {
		confidence int
		want       time.Duration
	}{
		{100, 30 * 24 * time.Hour},
		{90, 30 * 24 * time.Hour},
		{89, 14 * 24 * time.Hour},
		{70, 14 * 24 * time.Hour},
		{69, 7 * 24 * time.Hour},
		{50, 7 * 24 * time.Hour},
		{49, 3 * 24 * time.Hour},
		{0, 3 * 24 * time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RevalidationTTL(tt.confidence), "confidence %d", tt.confidence)
	}
}

func TestResolutionExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Resolution{NextRevalidationAt: now.Add(time.Hour)}

	assert.False(t, r.Expired(now))
	assert.False(t, r.Expired(now.Add(time.Hour))) // deadline itself is still fresh
	assert.True(t, r.Expired(now.Add(time.Hour+time.Second)))
}

func TestResolutionRedirectPath(t *testing.T) {
	r := Resolution{CitySlug: "dallas"}
	assert.Equal(t, "/electricity-rates/dallas", r.RedirectPath())
}
