package repository

import (
	"context"
	"errors"

	"imgapi/internal/model"
)

// ErrNotFound is returned by lookups for ids or filenames with no record.
// Both backends translate their native miss signal into this error.
var ErrNotFound = errors.New("image record not found")

// ImageRepository defines data access for image metadata records.
// No business logic here, strictly persistence operations.
//
// The repository is the single source of truth for listing: callers must never
// reconstruct records from an object-storage listing, which would lose size and
// upload order.
type ImageRepository interface {
	// Create inserts a new record and assigns its id. Ids are positive, unique,
	// and monotonically increasing; an id is never reused, even after deletion.
	// Returns the stored record with the id filled in.
	Create(ctx context.Context, img *model.Image) (*model.Image, error)

	// FindByID returns a record by its id, or ErrNotFound.
	FindByID(ctx context.Context, id int64) (*model.Image, error)

	// FindByFilename returns the record holding the given storage key, or ErrNotFound.
	FindByFilename(ctx context.Context, filename string) (*model.Image, error)

	// List returns all records in insertion order. Display ordering is a
	// presentation concern of the service layer, not the repository.
	List(ctx context.Context) ([]model.Image, error)

	// Delete removes a record by id. It reports whether a record existed and was
	// removed; deleting an absent id is not an error.
	Delete(ctx context.Context, id int64) (bool, error)
}
