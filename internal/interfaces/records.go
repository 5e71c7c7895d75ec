package interfaces

import (
	"context"

	"github.com/SanishKumar/comfy-service/internal/records"
)

// RecordStore generation record store interface
type RecordStore interface {
	// Add stores a new record
	Add(ctx context.Context, record *records.Record) error

	// Update stores the current state of a record
	Update(ctx context.Context, record *records.Record) error

	// Get gets record by ID
	Get(ctx context.Context, id string) (*records.Record, error)

	// List lists records newest first
	List(ctx context.Context, limit int) ([]*records.Record, error)
}
