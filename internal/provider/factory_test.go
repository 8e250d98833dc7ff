package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-engine/internal/model"
)

type stubClient struct {
	name string
}

func (s *stubClient) Name() string { return s.name }
func (s *stubClient) Validate(context.Context, model.ZipCode) (*model.Candidate, error) {
	return nil, nil
}

func testTable() *CoverageTable {
	return &CoverageTable{Rules: []CoverageRule{
		{Provider: "grid_operator", Ranges: []model.ZipRange{{Lo: 75000, Hi: 79999}}, Authoritative: true},
		{Provider: "tdu_oncor", Ranges: []model.ZipRange{{Lo: 75000, Hi: 76999}}},
	}}
}

func TestClientsForFiltersByRange(t *testing.T) {
	clients := []Client{
		&stubClient{name: "grid_operator"},
		&stubClient{name: "state_regulator"}, // no rule, always included
		&stubClient{name: "tdu_oncor"},
	}
	f := NewFactory(clients, testTable())

	names := func(cs []Client) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.Name()
		}
		return out
	}

	// Dallas: everything covers it; registration order preserved.
	assert.Equal(t, []string{"grid_operator", "state_regulator", "tdu_oncor"},
		names(f.ClientsFor("75201")))

	// Houston: outside the Oncor wire range.
	assert.Equal(t, []string{"grid_operator", "state_regulator"},
		names(f.ClientsFor("77002")))

	// El Paso annex: only the unruled regulator remains plausible.
	assert.Equal(t, []string{"state_regulator"},
		names(f.ClientsFor("88510")))
}

func TestClientsForNeverEmpty(t *testing.T) {
	clients := []Client{&stubClient{name: "grid_operator"}, &stubClient{name: "tdu_oncor"}}
	f := NewFactory(clients, testTable())

	// Every rule excludes the code; fall back to querying everyone rather
	// than manufacturing a NOT_FOUND from a stale table.
	got := f.ClientsFor("88510")
	assert.Len(t, got, 2)
}

func TestClientsForNilTable(t *testing.T) {
	clients := []Client{&stubClient{name: "a"}, &stubClient{name: "b"}}
	f := NewFactory(clients, nil)
	assert.Len(t, f.ClientsFor("10001"), 2)
}

func TestAuthoritativeFor(t *testing.T) {
	f := NewFactory(nil, testTable())

	assert.Equal(t, "grid_operator", f.AuthoritativeFor("75201"))
	assert.Equal(t, "", f.AuthoritativeFor("88510"))

	nilTable := NewFactory(nil, nil)
	assert.Equal(t, "", nilTable.AuthoritativeFor("75201"))
}

func TestLoadCoverageTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
coverage:
  rules:
    - provider: grid_operator
      authoritative: true
      ranges:
        - lo: 75000
          hi: 79999
    - provider: tdu_oncor
      ranges:
        - lo: 75000
          hi: 76999
`), 0o644))

	table, err := LoadCoverageTable(path)
	require.NoError(t, err)
	require.Len(t, table.Rules, 2)
	assert.Equal(t, "grid_operator", table.Rules[0].Provider)
	assert.True(t, table.Rules[0].Authoritative)
	assert.Equal(t, []model.ZipRange{{Lo: 75000, Hi: 76999}}, table.Rules[1].Ranges)
}

func TestLoadCoverageTableMissingFile(t *testing.T) {
	_, err := LoadCoverageTable(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
