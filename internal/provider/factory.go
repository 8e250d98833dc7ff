package provider

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/territory-engine/internal/model"
)

// CoverageRule declares which ZIP ranges a provider plausibly covers, and
// whether it is the authoritative source inside those ranges.
type CoverageRule struct {
	Provider      string           `yaml:"provider"`
	Ranges        []model.ZipRange `yaml:"ranges"`
	Authoritative bool             `yaml:"authoritative"`
}

func (r CoverageRule) covers(n int) bool {
	for _, rng := range r.Ranges {
		if rng.Contains(n) {
			return true
		}
	}
	return false
}

// CoverageTable is the static range table loaded from configuration.
type CoverageTable struct {
	Rules []CoverageRule `yaml:"rules"`
}

// LoadCoverageTable reads coverage rules from a YAML file.
func LoadCoverageTable(path string) (*CoverageTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: read coverage table %s", path)
	}
	var wrapper struct {
		Coverage CoverageTable `yaml:"coverage"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "provider: parse coverage table")
	}
	return &wrapper.Coverage, nil
}

// Factory selects the subset of registered clients plausibly relevant to a
// ZIP code, avoiding calls to providers guaranteed to answer NotCovered.
// Clients are kept in registration order; that order is the query order and
// breaks conflict-resolution ties when no authoritative source answered.
type Factory struct {
	clients []Client
	table   *CoverageTable
}

// NewFactory creates a factory over the given clients and coverage table.
// A nil table means every client is considered relevant for every code.
func NewFactory(clients []Client, table *CoverageTable) *Factory {
	return &Factory{clients: clients, table: table}
}

// Clients returns all registered clients in query order.
func (f *Factory) Clients() []Client {
	return f.clients
}

func (f *Factory) ruleFor(name string) *CoverageRule {
	if f.table == nil {
		return nil
	}
	for i := range f.table.Rules {
		if f.table.Rules[i].Provider == name {
			return &f.table.Rules[i]
		}
	}
	return nil
}

// ClientsFor returns the clients whose coverage rules include zip. Clients
// without a rule have uncertain coverage and are always included. If every
// rule excludes the code, all clients are returned; the factory never
// leaves an in-region code with zero candidates; unreachable providers are
// the orchestrator's problem.
func (f *Factory) ClientsFor(zip model.ZipCode) []Client {
	n := zip.Num()
	var out []Client
	for _, c := range f.clients {
		rule := f.ruleFor(c.Name())
		if rule == nil || rule.covers(n) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return f.clients
	}
	return out
}

// AuthoritativeFor returns the provider marked authoritative for the code's
// range, or "" if none is.
func (f *Factory) AuthoritativeFor(zip model.ZipCode) string {
	if f.table == nil {
		return ""
	}
	n := zip.Num()
	for _, rule := range f.table.Rules {
		if rule.Authoritative && rule.covers(n) {
			return rule.Provider
		}
	}
	return ""
}
