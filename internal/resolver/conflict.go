// Package resolver turns candidate answers from multiple providers into one
// canonical territory resolution.
package resolver

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-engine/internal/model"
)

// ErrNoCandidates is returned when Resolve is called with an empty set.
var ErrNoCandidates = eris.New("resolver: no candidates")

// Params holds the resolution constants. The magnitudes are operational
// tuning knobs, not business rules, so they are configurable.
type Params struct {
	// AgreementBoost is added per extra agreeing source when candidates are
	// unanimous, capped at 100.
	AgreementBoost int `yaml:"agreement_boost" mapstructure:"agreement_boost"`
	// ConflictPenalty is subtracted per dissenting group when they are not.
	ConflictPenalty int `yaml:"conflict_penalty" mapstructure:"conflict_penalty"`
	// FallbackPenalty is subtracted from a neighbor's stored confidence when
	// it substitutes for a code no provider answered.
	FallbackPenalty int `yaml:"fallback_penalty" mapstructure:"fallback_penalty"`
	// MinNeighborConfidence gates which stored neighbors qualify as
	// fallback sources.
	MinNeighborConfidence int `yaml:"min_neighbor_confidence" mapstructure:"min_neighbor_confidence"`
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		AgreementBoost:        5,
		ConflictPenalty:       10,
		FallbackPenalty:       20,
		MinNeighborConfidence: 80,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.AgreementBoost <= 0 {
		p.AgreementBoost = d.AgreementBoost
	}
	if p.ConflictPenalty <= 0 {
		p.ConflictPenalty = d.ConflictPenalty
	}
	if p.FallbackPenalty < d.FallbackPenalty {
		p.FallbackPenalty = d.FallbackPenalty
	}
	if p.MinNeighborConfidence <= 0 {
		p.MinNeighborConfidence = d.MinNeighborConfidence
	}
	return p
}

// group is one (citySlug, utilityID) bucket of agreeing candidates, kept in
// first-appearance order so resolution stays deterministic.
type group struct {
	citySlug  string
	utilityID string
	members   []model.Candidate
	sum       int
}

func (g *group) best() model.Candidate {
	top := g.members[0]
	for _, m := range g.members[1:] {
		if m.RawConfidence > top.RawConfidence {
			top = m
		}
	}
	return top
}

func (g *group) contains(provider string) bool {
	for _, m := range g.members {
		if m.Provider == provider {
			return true
		}
	}
	return false
}

// Resolver implements the conflict resolution algorithm. It is deterministic
// and commutative over the candidate set apart from the documented
// first-queried tie break, which follows the order candidates arrive in.
type Resolver struct {
	params Params
}

// New creates a resolver with the given params, filling in defaults.
func New(params Params) *Resolver {
	return &Resolver{params: params.withDefaults()}
}

// Params returns the effective resolution constants.
func (r *Resolver) Params() Params {
	return r.params
}

// Resolve selects the canonical answer from one or more candidates.
// authoritative names the provider marked authoritative for the code's
// range ("" if none); it only matters as a tie break between groups with
// equal confidence sums. now stamps ResolvedAt and the revalidation TTL.
func (r *Resolver) Resolve(zip model.ZipCode, candidates []model.Candidate, authoritative string, now time.Time) (*model.Resolution, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	groups := groupCandidates(candidates)

	var winner *group
	var confidence int

	if len(groups) == 1 {
		winner = groups[0]
		confidence = winner.best().RawConfidence + r.params.AgreementBoost*(len(winner.members)-1)
		if confidence > 100 {
			confidence = 100
		}
	} else {
		winner = pickWinner(groups, authoritative)
		confidence = winner.best().RawConfidence - r.params.ConflictPenalty*(len(groups)-1)
		if confidence < 0 {
			confidence = 0
		}
	}

	rep := winner.best()
	res := &model.Resolution{
		ZipCode:            zip,
		CitySlug:           rep.CitySlug,
		CityDisplayName:    rep.CityDisplayName,
		UtilityID:          rep.UtilityID,
		UtilityName:        rep.UtilityName,
		MarketType:         rep.MarketType,
		Confidence:         confidence,
		DataSource:         rep.Provider,
		ResolvedAt:         now,
		NextRevalidationAt: now.Add(model.RevalidationTTL(confidence)),
	}

	for _, g := range groups {
		if g == winner {
			continue
		}
		for _, m := range g.members {
			res.Conflicts = append(res.Conflicts, model.Conflict{
				Provider:   m.Provider,
				CitySlug:   m.CitySlug,
				UtilityID:  m.UtilityID,
				Confidence: m.RawConfidence,
			})
		}
	}

	return res, nil
}

func groupCandidates(candidates []model.Candidate) []*group {
	var groups []*group
	for _, c := range candidates {
		var g *group
		for _, existing := range groups {
			if existing.citySlug == c.CitySlug && existing.utilityID == c.UtilityID {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{citySlug: c.CitySlug, utilityID: c.UtilityID}
			groups = append(groups, g)
		}
		g.members = append(g.members, c)
		g.sum += c.RawConfidence
	}
	return groups
}

// pickWinner chooses the group with the highest confidence sum. A single
// very-confident source outweighs multiple low-confidence dissenters. Ties
// prefer the group containing the authoritative provider, then the group of
// the first-queried candidate.
func pickWinner(groups []*group, authoritative string) *group {
	winner := groups[0]
	for _, g := range groups[1:] {
		if g.sum > winner.sum {
			winner = g
			continue
		}
		if g.sum == winner.sum && authoritative != "" &&
			!winner.contains(authoritative) && g.contains(authoritative) {
			winner = g
		}
	}
	return winner
}
