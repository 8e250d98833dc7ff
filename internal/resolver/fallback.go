package resolver

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/model"
)

// ErrNoNeighbor is returned when no previously resolved neighbor qualifies
// as a fallback source.
var ErrNoNeighbor = eris.New("resolver: no qualifying neighbor")

// NeighborStore is the slice of the persistence contract the fallback
// locator needs: a digit-prefix range query ordered by confidence.
type NeighborStore interface {
	ListByPrefix(ctx context.Context, prefix string, minConfidence, limit int) ([]model.Resolution, error)
}

// FallbackLocator substitutes a nearby, previously resolved code's answer
// when no live source responds. Only triggered on total provider failure.
type FallbackLocator struct {
	store  NeighborStore
	params Params
}

// NewFallbackLocator creates a locator over the given store.
func NewFallbackLocator(store NeighborStore, params Params) *FallbackLocator {
	return &FallbackLocator{store: store, params: params.withDefaults()}
}

// Locate searches resolutions sharing the target's 3-digit prefix with
// stored confidence at or above the qualifying floor, takes the most
// confident, and returns it re-keyed to the target with a penalized
// confidence and DataSource "fallback_nearest".
func (f *FallbackLocator) Locate(ctx context.Context, zip model.ZipCode, now time.Time) (*model.Resolution, error) {
	neighbors, err := f.store.ListByPrefix(ctx, zip.Prefix3(), f.params.MinNeighborConfidence, 1)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: neighbor lookup")
	}
	if len(neighbors) == 0 {
		return nil, ErrNoNeighbor
	}

	n := neighbors[0]
	confidence := n.Confidence - f.params.FallbackPenalty
	if confidence < 0 {
		confidence = 0
	}

	zap.L().Info("fallback neighbor substituted",
		zap.String("zip", zip.String()),
		zap.String("neighbor", n.ZipCode.String()),
		zap.Int("neighbor_confidence", n.Confidence),
		zap.Int("confidence", confidence),
	)

	return &model.Resolution{
		ZipCode:            zip,
		CitySlug:           n.CitySlug,
		CityDisplayName:    n.CityDisplayName,
		UtilityID:          n.UtilityID,
		UtilityName:        n.UtilityName,
		MarketType:         n.MarketType,
		Confidence:         confidence,
		DataSource:         model.SourceFallbackNearest,
		ResolvedAt:         now,
		NextRevalidationAt: now.Add(model.RevalidationTTL(confidence)),
	}, nil
}

// NearestServiceable returns up to limit known serviceable neighbors for a
// code that could not be resolved, used to give callers actionable detail
// on a NOT_FOUND response.
func (f *FallbackLocator) NearestServiceable(ctx context.Context, zip model.ZipCode, limit int) ([]string, error) {
	neighbors, err := f.store.ListByPrefix(ctx, zip.Prefix3(), 0, limit)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: serviceable neighbors")
	}
	zips := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		zips = append(zips, n.ZipCode.String())
	}
	return zips, nil
}
