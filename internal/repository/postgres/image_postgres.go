package postgres

import (
	"context"
	"database/sql"
	"errors"

	"imgapi/internal/model"
	"imgapi/internal/repository"
)

// ImagePostgres is a PostgreSQL implementation of repository.ImageRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// Ids come from a BIGSERIAL column, so they stay monotonic and are never reused.
type ImagePostgres struct {
	db *sql.DB
}

// NewImagePostgres creates a new ImagePostgres repository.
func NewImagePostgres(db *sql.DB) *ImagePostgres {
	return &ImagePostgres{db: db}
}

var _ repository.ImageRepository = (*ImagePostgres)(nil)

// Create inserts a new image row and returns the stored record with its assigned id.
func (r *ImagePostgres) Create(ctx context.Context, img *model.Image) (*model.Image, error) {
	const q = `
		INSERT INTO images (filename, url, content_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, filename, url, content_type, size, created_at
	`
	row := r.db.QueryRowContext(ctx, q,
		img.Filename,
		img.URL,
		img.ContentType,
		img.Size,
		img.CreatedAt,
	)
	var out model.Image
	if err := row.Scan(
		&out.ID,
		&out.Filename,
		&out.URL,
		&out.ContentType,
		&out.Size,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByID fetches a single image by its id.
func (r *ImagePostgres) FindByID(ctx context.Context, id int64) (*model.Image, error) {
	const q = `
		SELECT id, filename, url, content_type, size, created_at
		FROM images
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// FindByFilename fetches a single image by its storage key.
func (r *ImagePostgres) FindByFilename(ctx context.Context, filename string) (*model.Image, error) {
	const q = `
		SELECT id, filename, url, content_type, size, created_at
		FROM images
		WHERE filename = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, q, filename))
}

func (r *ImagePostgres) scanOne(row *sql.Row) (*model.Image, error) {
	var img model.Image
	if err := row.Scan(
		&img.ID,
		&img.Filename,
		&img.URL,
		&img.ContentType,
		&img.Size,
		&img.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

// List returns all images in insertion (id) order.
func (r *ImagePostgres) List(ctx context.Context) ([]model.Image, error) {
	const q = `
		SELECT id, filename, url, content_type, size, created_at
		FROM images
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Image, 0)
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(
			&img.ID,
			&img.Filename,
			&img.URL,
			&img.ContentType,
			&img.Size,
			&img.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// Delete removes an image by id and reports whether a row was removed.
func (r *ImagePostgres) Delete(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM images WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
