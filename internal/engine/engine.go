// Package engine implements the territory resolution orchestrator: cache
// check, concurrent provider fan-out, conflict resolution, fallback, and
// persistence.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/cache"
	"github.com/sells-group/territory-engine/internal/model"
	"github.com/sells-group/territory-engine/internal/provider"
	"github.com/sells-group/territory-engine/internal/resilience"
	"github.com/sells-group/territory-engine/internal/resolver"
	"github.com/sells-group/territory-engine/internal/store"
)

// Failure codes surfaced to callers.
const (
	CodeInvalidZipFormat = "INVALID_ZIP_FORMAT"
	CodeNotInRegion      = "NOT_IN_REGION"
	CodeNotFound         = "NOT_FOUND"
	CodeRoutingError     = "ROUTING_ERROR"
)

// Failure is the error side of a resolution outcome. Callers must handle it
// explicitly; provider-level errors never reach here individually.
type Failure struct {
	Code string
	// NearestServiceable lists nearby known serviceable ZIP codes on a
	// NOT_FOUND, so callers can offer something actionable.
	NearestServiceable []string
	Err                error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Code + ": " + f.Err.Error()
	}
	return f.Code
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err, mapping anything unclassified to
// ROUTING_ERROR.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Code: CodeRoutingError, Err: err}
}

// Result is the success side of a resolution outcome.
type Result struct {
	Resolution       *model.Resolution
	Cached           bool
	ProcessingTimeMs int64
}

// ResolveOptions modifies a single resolution request.
type ResolveOptions struct {
	// ForceRefresh bypasses cache reads (never cache writes).
	ForceRefresh bool
}

// Options tunes the engine.
type Options struct {
	// ProviderTimeout bounds each provider call. Default 5s.
	ProviderTimeout time.Duration
	// Region restricts valid codes; empty means unrestricted.
	Region []model.ZipRange
	// Retry is the per-provider retry policy.
	Retry resilience.RetryConfig
	// Bulk tunes bulk resolution.
	Bulk BulkOptions
}

func (o Options) withDefaults() Options {
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 5 * time.Second
	}
	if o.Region == nil {
		o.Region = model.TexasRegion
	}
	o.Bulk = o.Bulk.withDefaults()
	return o
}

// Engine is the public-facing resolution orchestrator. It exclusively owns
// writes to the resolutions table and the audit log.
type Engine struct {
	factory  *provider.Factory
	resolver *resolver.Resolver
	fallback *resolver.FallbackLocator
	cache    *cache.Cache
	store    store.Store
	breakers *resilience.ProviderBreakers
	opts     Options

	nowFunc func() time.Time
}

// New wires an engine from its parts.
func New(factory *provider.Factory, res *resolver.Resolver, fb *resolver.FallbackLocator,
	c *cache.Cache, st store.Store, breakers *resilience.ProviderBreakers, opts Options) *Engine {
	return &Engine{
		factory:  factory,
		resolver: res,
		fallback: fb,
		cache:    c,
		store:    st,
		breakers: breakers,
		opts:     opts.withDefaults(),
		nowFunc:  time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.nowFunc = now
	return e
}

// Resolve maps a ZIP code to its canonical service territory. Validation
// failures are rejected before any provider or cache access; provider
// failures are absorbed and only surface as NOT_FOUND when every source
// failed and no fallback neighbor qualified.
func (e *Engine) Resolve(ctx context.Context, rawZip string, opts ResolveOptions) (*Result, error) {
	start := e.nowFunc()
	requestID := uuid.New().String()
	log := zap.L().With(zap.String("zip", rawZip), zap.String("request_id", requestID))

	zip, err := model.ParseZip(rawZip)
	if err != nil {
		e.audit(ctx, &model.AuditEntry{
			ZipCode:     rawZip,
			RequestID:   requestID,
			ErrorCode:   CodeInvalidZipFormat,
			ValidatedAt: start,
		})
		return nil, &Failure{Code: CodeInvalidZipFormat, Err: err}
	}
	if !zip.InRegion(e.opts.Region) {
		e.audit(ctx, &model.AuditEntry{
			ZipCode:     zip.String(),
			RequestID:   requestID,
			ErrorCode:   CodeNotInRegion,
			ValidatedAt: start,
		})
		return nil, &Failure{Code: CodeNotInRegion, Err: model.ErrOutOfRegion}
	}

	if !opts.ForceRefresh {
		if res, state := e.cache.Lookup(ctx, zip); state.Hit() {
			elapsed := time.Since(start).Milliseconds()
			e.audit(ctx, &model.AuditEntry{
				ZipCode:          zip.String(),
				RequestID:        requestID,
				ChosenSource:     res.DataSource,
				CacheHit:         true,
				ProcessingTimeMs: elapsed,
				ValidatedAt:      start,
			})
			return &Result{Resolution: res, Cached: true, ProcessingTimeMs: elapsed}, nil
		} else if state == cache.FailureHit {
			// A recent total failure is still fresh; don't hammer providers.
			return nil, e.notFound(ctx, zip, requestID, nil, start, true)
		}
	}

	clients := e.factory.ClientsFor(zip)
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.Name()
	}
	log.Debug("querying providers", zap.Strings("providers", names))

	candidates := e.fanOut(ctx, zip, clients)

	if len(candidates) == 0 {
		res, err := e.fallback.Locate(ctx, zip, e.nowFunc())
		if err != nil {
			if !errors.Is(err, resolver.ErrNoNeighbor) {
				log.Warn("fallback lookup failed", zap.Error(err))
			}
			e.cache.PutFailure(zip)
			return nil, e.notFound(ctx, zip, requestID, names, start, false)
		}
		return e.finish(ctx, res, requestID, names, start)
	}

	res, err := e.resolver.Resolve(zip, candidates, e.factory.AuthoritativeFor(zip), e.nowFunc())
	if err != nil {
		// Unreachable with a non-empty candidate set; treat as internal.
		return nil, &Failure{Code: CodeRoutingError, Err: err}
	}
	if len(res.Conflicts) > 0 {
		log.Info("providers disagreed",
			zap.String("chosen", res.CitySlug+"/"+res.UtilityID),
			zap.Int("conflicts", len(res.Conflicts)),
		)
	}
	return e.finish(ctx, res, requestID, names, start)
}

// fanOut queries the clients concurrently, each with its own timeout, retry
// budget, and circuit breaker. Successes come back in query order so the
// resolver's first-queried tie break stays deterministic. Candidates that
// completed before a deadline expiry are kept.
func (e *Engine) fanOut(ctx context.Context, zip model.ZipCode, clients []provider.Client) []model.Candidate {
	results := make([]*model.Candidate, len(clients))
	var wg sync.WaitGroup

	for i, c := range clients {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()

			cb := e.breakers.Get(c.Name())
			if err := cb.Allow(); err != nil {
				zap.L().Debug("provider skipped, circuit open",
					zap.String("provider", c.Name()),
					zap.String("zip", zip.String()),
				)
				return
			}

			callCtx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
			defer cancel()

			retryCfg := e.opts.Retry
			retryCfg.OnRetry = resilience.RetryLogger(c.Name(), zip.String())

			cand, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) (*model.Candidate, error) {
				return c.Validate(ctx, zip)
			})
			cb.Record(err)
			if err != nil {
				if !provider.IsNotCovered(err) {
					zap.L().Warn("provider call failed",
						zap.String("provider", c.Name()),
						zap.String("zip", zip.String()),
						zap.String("kind", string(provider.KindOf(err))),
						zap.Error(err),
					)
				}
				return
			}
			results[i] = cand
		}()
	}
	wg.Wait()

	var candidates []model.Candidate
	for _, r := range results {
		if r != nil {
			candidates = append(candidates, *r)
		}
	}
	return candidates
}

// finish persists, caches, and audit-logs a successful resolution.
// Persistence failures never fail the caller-facing request.
func (e *Engine) finish(ctx context.Context, res *model.Resolution, requestID string, sources []string, start time.Time) (*Result, error) {
	if err := e.store.UpsertResolution(ctx, res); err != nil {
		zap.L().Warn("resolution persist failed, serving computed answer",
			zap.String("zip", res.ZipCode.String()),
			zap.Error(err),
		)
	}
	e.cache.Put(res)

	elapsed := time.Since(start).Milliseconds()
	e.audit(ctx, &model.AuditEntry{
		ZipCode:          res.ZipCode.String(),
		RequestID:        requestID,
		SourcesQueried:   sources,
		ChosenSource:     res.DataSource,
		ProcessingTimeMs: elapsed,
		ValidatedAt:      start,
	})
	return &Result{Resolution: res, ProcessingTimeMs: elapsed}, nil
}

// notFound builds the NOT_FOUND failure with nearby serviceable codes and
// writes the audit entry. cacheHit marks answers served from the failure
// cache so the metrics rollup can tell them apart from fresh misses.
func (e *Engine) notFound(ctx context.Context, zip model.ZipCode, requestID string, sources []string, start time.Time, cacheHit bool) error {
	nearest, err := e.fallback.NearestServiceable(ctx, zip, 3)
	if err != nil {
		nearest = nil
	}
	e.audit(ctx, &model.AuditEntry{
		ZipCode:          zip.String(),
		RequestID:        requestID,
		SourcesQueried:   sources,
		CacheHit:         cacheHit,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ErrorCode:        CodeNotFound,
		ValidatedAt:      start,
	})
	return &Failure{Code: CodeNotFound, NearestServiceable: nearest}
}

func (e *Engine) audit(ctx context.Context, entry *model.AuditEntry) {
	if entry.SourcesQueried == nil {
		entry.SourcesQueried = []string{}
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		zap.L().Warn("audit write failed",
			zap.String("zip", entry.ZipCode),
			zap.Error(err),
		)
	}
}
