// Package store persists addresses, the verified zip reference table, and
// geocode/verification status bookkeeping.
package store

import (
	"context"

	"github.com/sells-group/geocode-pipeline/internal/model"
)

// Store defines the persistence interface for the geocoding pipeline.
type Store interface {
	// Addresses
	GetAddress(ctx context.Context, id int64) (*model.Address, error)
	ListUngeocoded(ctx context.Context, limit int) ([]model.Address, error)
	SaveGeocodeResult(ctx context.Context, id int64, res model.GeocodeResult) error
	SetGeocodeStatus(ctx context.Context, id int64, status model.GeocodeStatus) error

	// Verification
	ListUnverified(ctx context.Context, limit int) ([]model.Address, error)
	SetVerifyStatus(ctx context.Context, id int64, status model.VerifyStatus) error
	// MarkVerifiedBatch marks the given addresses VERIFIED and runs
	// beforeCommit inside the same transaction; an error from beforeCommit
	// rolls back every status write.
	MarkVerifiedBatch(ctx context.Context, ids []int64, beforeCommit func(ctx context.Context) error) error

	// Reference table
	GetVerifiedAddress(ctx context.Context, country, zip string) (*model.VerifiedAddress, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
