package repository

import (
	"context"

	"traffic-fines-service/internal/domain/violation"
)

// Store persists the ordered collection of violation records. Save must
// replace the whole collection atomically: after a failed Save a later
// Load returns the previous collection, never a mix.
type Store interface {
	Load(ctx context.Context) ([]violation.ViolationRecord, error)
	Save(ctx context.Context, records []violation.ViolationRecord) error
	Ping(ctx context.Context) error
	Name() string
}
