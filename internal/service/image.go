package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"imgapi/internal/config"
	"imgapi/internal/model"
	"imgapi/internal/repository"
	"imgapi/internal/storage"
)

var (
	ErrNoFile      = errors.New("no file uploaded")
	ErrInvalidType = errors.New("invalid file type")
	ErrNotFound    = errors.New("image not found")
	ErrFileMissing = errors.New("file not found")
)

// FileTooLargeError reports an upload exceeding the configured size cap.
// The message carries both the actual and the maximum size for user feedback.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d bytes (%.1fMB) exceeds the maximum of %d bytes (%.1fMB)",
		e.Size, float64(e.Size)/(1024*1024), e.Limit, float64(e.Limit)/(1024*1024))
}

// keyPrefix is the logical directory all image blobs live under.
const keyPrefix = "images/"

// maxNameLength caps the name portion of a sanitized filename, extension excluded.
const maxNameLength = 50

// defaultExtension is appended when the original filename has no extension, so
// every storage key carries one and content-type inference has something to go on.
const defaultExtension = "bin"

// ImageService defines the use cases for handling uploaded images.
type ImageService interface {
	// Upload validates the file, writes the blob under a collision-resistant key,
	// and records metadata. Either both the blob and the record exist afterwards,
	// or neither does (metadata failure triggers a compensating blob delete).
	Upload(ctx context.Context, r io.Reader, originalFilename string, contentType string, size int64) (*model.Image, error)

	// List returns all images in display order: newest first, by the timestamp
	// embedded in each storage key.
	List(ctx context.Context) ([]model.Image, error)

	// Get returns a single image by its id.
	Get(ctx context.Context, id int64) (*model.Image, error)

	// Delete removes an image's blob and metadata record by id.
	Delete(ctx context.Context, id int64) error

	// FetchFile streams a stored blob by storage key along with its content type.
	FetchFile(ctx context.Context, key string) (io.ReadCloser, string, error)

	// OrphanKeys lists storage keys under the image prefix with no metadata record.
	OrphanKeys(ctx context.Context) ([]string, error)
}

// imageService is a concrete implementation of ImageService.
type imageService struct {
	store    storage.Storage
	repo     repository.ImageRepository
	maxSize  int64
	accepted map[string]bool
}

// NewImageService constructs a new ImageService with the given upload policy.
func NewImageService(store storage.Storage, repo repository.ImageRepository, cfg config.UploadConfig) ImageService {
	accepted := make(map[string]bool, len(cfg.AcceptedTypes))
	for _, t := range cfg.AcceptedTypes {
		accepted[t] = true
	}
	return &imageService{
		store:    store,
		repo:     repo,
		maxSize:  cfg.MaxFileSizeBytes,
		accepted: accepted,
	}
}

func (s *imageService) Upload(ctx context.Context, r io.Reader, originalFilename string, contentType string, size int64) (*model.Image, error) {
	// Validation happens before any side effect; a rejected upload touches neither
	// the object store nor the repository.
	if r == nil || size == 0 {
		return nil, ErrNoFile
	}
	if !s.accepted[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, contentType)
	}
	if size > s.maxSize {
		return nil, &FileTooLargeError{Size: size, Limit: s.maxSize}
	}

	// Timestamp disambiguator keeps concurrent uploads of the same original name
	// from colliding on the storage key.
	key := fmt.Sprintf("%s%d-%s", keyPrefix, time.Now().UnixMilli(), SanitizeFilename(originalFilename))

	_, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	img := &model.Image{
		Filename:    key,
		URL:         FileURL(key),
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, img)
	if err != nil {
		// Rollback: delete the blob so no orphan is left behind. If the delete
		// itself fails, the orphan scan will surface the leftover key.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("metadata save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("metadata save failed: %w", err)
	}
	return stored, nil
}

// List returns images newest-first by the key's timestamp segment. Records whose
// keys do not parse keep their stable repository order at the end.
func (s *imageService) List(ctx context.Context) ([]model.Image, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return keyTimestamp(items[i].Filename) > keyTimestamp(items[j].Filename)
	})
	return items, nil
}

// Get returns an image by id, mapping a repository miss to ErrNotFound.
func (s *imageService) Get(ctx context.Context, id int64) (*model.Image, error) {
	img, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return img, nil
}

// Delete removes the blob first, then the metadata record.
func (s *imageService) Delete(ctx context.Context, id int64) error {
	img, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.store.Delete(ctx, img.Filename); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	// A concurrent delete may have won the race for the record; that is fine.
	if _, err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return nil
}

// FetchFile streams the blob for a storage key. Any retrieval failure renders as
// a missing file to the caller; the underlying error stays wrapped for logs.
func (s *imageService) FetchFile(ctx context.Context, key string) (io.ReadCloser, string, error) {
	rc, _, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFileMissing, err)
	}
	return rc, ContentTypeForKey(key), nil
}

// OrphanKeys walks blobs under the image prefix and reports those with no
// metadata record. Orphans are only ever reported, never deleted here.
func (s *imageService) OrphanKeys(ctx context.Context) ([]string, error) {
	objs, err := s.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for _, obj := range objs {
		if _, err := s.repo.FindByFilename(ctx, obj.Key); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				orphans = append(orphans, obj.Key)
				continue
			}
			return nil, err
		}
	}
	return orphans, nil
}

// FileURL derives the client-resolvable locator for a storage key. The serving
// endpoint reverses it by percent-decoding the wildcard segment.
func FileURL(key string) string {
	return "/storage/" + url.PathEscape(key)
}

// SanitizeFilename normalizes an original filename into a storage-safe form:
// lower-cased, every run of characters outside [a-z0-9.] collapsed to a single
// hyphen, the name portion truncated to 50 characters with the extension kept.
// A filename without an extension gets ".bin" so keys always carry one.
func SanitizeFilename(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lower))
	lastHyphen := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	clean := b.String()

	base, ext, found := strings.Cut(clean, ".")
	if !found || ext == "" {
		ext = defaultExtension
	}
	if base == "" {
		base = "file"
	}
	if len(base) > maxNameLength {
		base = base[:maxNameLength]
	}
	return base + "." + ext
}

// keyTimestamp extracts the millisecond disambiguator from a storage key.
// Returns 0 for keys that do not follow the images/<millis>-<name> shape.
func keyTimestamp(key string) int64 {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0
	}
	millis, _, found := strings.Cut(rest, "-")
	if !found {
		return 0
	}
	ts, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// ContentTypeForKey infers a response content type from a storage key's extension.
// The mapping is closed; anything unknown serves as an opaque octet stream.
func ContentTypeForKey(key string) string {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return "application/octet-stream"
	}
	switch strings.ToLower(key[idx+1:]) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
