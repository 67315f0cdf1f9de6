package memory

import (
	"context"
	"sort"
	"sync"

	"imgapi/internal/model"
	"imgapi/internal/repository"
)

// ImageMemory is an in-process implementation of repository.ImageRepository
// backed by a map. It is the default metadata backend; records do not survive
// a restart. Safe for concurrent use.
type ImageMemory struct {
	mu     sync.RWMutex
	images map[int64]model.Image
	nextID int64
}

// NewImageMemory creates an empty in-memory image repository.
func NewImageMemory() *ImageMemory {
	return &ImageMemory{
		images: make(map[int64]model.Image),
		nextID: 1,
	}
}

var _ repository.ImageRepository = (*ImageMemory)(nil)

// Create assigns the next id under the lock so concurrent uploads never share one.
func (r *ImageMemory) Create(ctx context.Context, img *model.Image) (*model.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *img
	stored.ID = r.nextID
	r.nextID++
	r.images[stored.ID] = stored

	return &stored, nil
}

// FindByID returns a copy of the record so callers cannot mutate shared state.
func (r *ImageMemory) FindByID(ctx context.Context, id int64) (*model.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, ok := r.images[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := img
	return &out, nil
}

// FindByFilename scans for the record holding the given storage key.
func (r *ImageMemory) FindByFilename(ctx context.Context, filename string) (*model.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, img := range r.images {
		if img.Filename == filename {
			out := img
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// List returns records in insertion order. Map iteration is unordered, so the
// snapshot is sorted by id, which the repository assigns monotonically.
func (r *ImageMemory) List(ctx context.Context) ([]model.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]model.Image, 0, len(r.images))
	for _, img := range r.images {
		items = append(items, img)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return items, nil
}

// Delete removes a record by id. The id counter is never rewound.
func (r *ImageMemory) Delete(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[id]; !ok {
		return false, nil
	}
	delete(r.images, id)
	return true, nil
}
