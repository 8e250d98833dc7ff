package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/territory-engine/internal/model"
)

// BulkOptions tunes bulk resolution throughput against aggregate provider
// rate limits.
type BulkOptions struct {
	// BatchSize partitions the input; the inter-batch delay applies between
	// partitions. Default 10.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// Concurrency bounds in-flight resolutions within a batch. Default 10.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// BatchDelay is slept by the coordinator between batches, not by
	// individual workers. Default 1s.
	BatchDelay time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
}

func (o BulkOptions) withDefaults() BulkOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = time.Second
	}
	return o
}

// ResolveBulk resolves many ZIP codes in rate-limited batches. Every input
// produces exactly one item in the result; a single item's failure never
// aborts the batch. Cancellation is cooperative between batches, so an
// in-flight batch finishes.
func (e *Engine) ResolveBulk(ctx context.Context, zips []string, opts ResolveOptions) (*model.BulkResult, error) {
	start := e.nowFunc()
	result := &model.BulkResult{
		Items:          make([]model.BulkItem, len(zips)),
		TotalRequested: len(zips),
	}

	zap.L().Info("bulk resolution started",
		zap.Int("zips", len(zips)),
		zap.Int("batch_size", e.opts.Bulk.BatchSize),
		zap.Int("concurrency", e.opts.Bulk.Concurrency),
	)

	var mu sync.Mutex
	var confidenceSum int

	for offset := 0; offset < len(zips); offset += e.opts.Bulk.BatchSize {
		if offset > 0 {
			// Inter-batch delay respects aggregate provider rate limits.
			timer := time.NewTimer(e.opts.Bulk.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				fillCancelled(result, zips, offset)
				result.TotalProcessingTimeMs = time.Since(start).Milliseconds()
				return result, ctx.Err()
			case <-timer.C:
			}
		}

		end := offset + e.opts.Bulk.BatchSize
		if end > len(zips) {
			end = len(zips)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Bulk.Concurrency)

		for i := offset; i < end; i++ {
			i := i
			g.Go(func() error {
				item := e.resolveItem(gctx, zips[i], opts)
				mu.Lock()
				result.Items[i] = item
				if item.Success {
					result.SuccessCount++
					confidenceSum += item.Resolution.Confidence
				} else {
					result.FailureCount++
				}
				mu.Unlock()
				return nil // individual failures never abort the batch
			})
		}
		_ = g.Wait()
	}

	if result.SuccessCount > 0 {
		result.AverageConfidence = float64(confidenceSum) / float64(result.SuccessCount)
	}
	result.TotalProcessingTimeMs = time.Since(start).Milliseconds()

	zap.L().Info("bulk resolution complete",
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailureCount),
		zap.Int64("elapsed_ms", result.TotalProcessingTimeMs),
	)
	return result, nil
}

func (e *Engine) resolveItem(ctx context.Context, zip string, opts ResolveOptions) model.BulkItem {
	res, err := e.Resolve(ctx, zip, opts)
	if err != nil {
		return model.BulkItem{ZipCode: zip, ErrorCode: AsFailure(err).Code}
	}
	return model.BulkItem{ZipCode: zip, Success: true, Resolution: res.Resolution}
}

// fillCancelled marks every unscheduled item after a cooperative cancel so
// the result still carries one entry per input.
func fillCancelled(result *model.BulkResult, zips []string, processed int) {
	for i := processed; i < len(zips); i++ {
		result.Items[i] = model.BulkItem{ZipCode: zips[i], ErrorCode: CodeRoutingError}
		result.FailureCount++
	}
}
