// Package store persists territory resolutions and the resolution audit log.
package store

import (
	"context"
	"time"

	"github.com/sells-group/territory-engine/internal/model"
)

// Store is the persistence contract the engine requires: upsert-by-key and
// point lookup on the resolutions table, a digit-prefix range query ordered
// by confidence for fallback, and an append-only audit log.
type Store interface {
	// Resolutions
	UpsertResolution(ctx context.Context, res *model.Resolution) error
	ImportResolutions(ctx context.Context, resolutions []model.Resolution) (int64, error)
	GetResolution(ctx context.Context, zip model.ZipCode) (*model.Resolution, error)
	ListByPrefix(ctx context.Context, prefix string, minConfidence, limit int) ([]model.Resolution, error)

	// Audit log
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAuditSince(ctx context.Context, cutoff time.Time, limit int) ([]model.AuditEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
