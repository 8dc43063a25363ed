package image

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/manupriyaaa/tracelens/internal/model"
)

var ErrImageNotFound = errors.New("image not found")

// Repository provides CRUD operations for image records in the database.
// Every read and delete is filtered by owner id; a record belonging to a
// different owner is indistinguishable from a missing one.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new image record and returns its UUID.
func (r *Repository) Create(ctx context.Context, rec model.ImageRecord) (uuid.UUID, error) {
	query := `
		INSERT INTO images (owner_id, filename, original_name, size_bytes, mime_type, path, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
   `

	var id uuid.UUID
	err := r.db.Master.QueryRowContext(
		ctx, query, rec.OwnerID, rec.Filename, rec.OriginalName, rec.Size, rec.MimeType, rec.Path, rec.UploadedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create: failed to save image: %w", err)
	}

	return id, nil
}

// GetByIDAndOwner retrieves an image record by id, filtered by owner.
func (r *Repository) GetByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error) {
	query := `
		SELECT owner_id, filename, original_name, size_bytes, mime_type, path, uploaded_at, processed, processed_at, detection
		FROM images
		WHERE id = $1 AND owner_id = $2
    `

	rec, err := r.scanRecord(r.db.Master.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ImageRecord{}, ErrImageNotFound
		}

		return model.ImageRecord{}, fmt.Errorf("get: failed to get image: %w", err)
	}

	rec.ID = id

	return rec, nil
}

// UpdateDetectionResult attaches a detection result to a record. It is the
// only write path that sets processed, and it sets the flag, the timestamp
// and the payload in a single statement so readers never observe one
// without the others. Re-running detection overwrites the prior result.
func (r *Repository) UpdateDetectionResult(ctx context.Context, id uuid.UUID, res model.DetectionResult) error {
	query := `
		UPDATE images
		SET detection = $1, processed = TRUE, processed_at = NOW()
		WHERE id = $2
    `

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("update: failed to marshal detection result: %w", err)
	}

	rows, err := r.db.Master.ExecContext(ctx, query, payload, id)
	if err != nil {
		return fmt.Errorf("update: failed to update image: %w", err)
	}

	n, err := rows.RowsAffected()
	if err != nil {
		return fmt.Errorf("update: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrImageNotFound
	}

	return nil
}

// DeleteByIDAndOwner deletes a record and returns it, so the caller can
// remove the backing file afterwards.
func (r *Repository) DeleteByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error) {
	query := `
		DELETE FROM images
		WHERE id = $1 AND owner_id = $2
		RETURNING owner_id, filename, original_name, size_bytes, mime_type, path, uploaded_at, processed, processed_at, detection
    `

	rec, err := r.scanRecord(r.db.Master.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ImageRecord{}, ErrImageNotFound
		}

		return model.ImageRecord{}, fmt.Errorf("delete: failed to delete image: %w", err)
	}

	rec.ID = id

	return rec, nil
}

// sortColumns maps client sort keys to actual columns. Anything not listed
// falls back to upload time.
var sortColumns = map[string]string{
	"uploaded_at":  "uploaded_at",
	"size":         "size_bytes",
	"processed_at": "processed_at",
}

// ListByOwner returns one page of the owner's images plus the total count.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, f model.ListFilter) ([]model.ImageRecord, int, error) {
	where := "WHERE owner_id = $1"
	args := []interface{}{ownerID}

	if f.Processed != nil {
		where += " AND processed = $2"
		args = append(args, *f.Processed)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM images " + where
	if err := r.db.Master.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list: failed to count images: %w", err)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "uploaded_at"
	}
	order := "DESC"
	if f.SortOrder == "asc" {
		order = "ASC"
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT id, owner_id, filename, original_name, size_bytes, mime_type, path, uploaded_at, processed, processed_at, detection
		FROM images %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
    `, where, col, order, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Master.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list: failed to list images: %w", err)
	}
	defer rows.Close()

	var records []model.ImageRecord
	for rows.Next() {
		var (
			rec       model.ImageRecord
			detection []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.Filename, &rec.OriginalName, &rec.Size,
			&rec.MimeType, &rec.Path, &rec.UploadedAt, &rec.Processed, &rec.ProcessedAt, &detection,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("list: failed to scan image: %w", err)
		}
		if detection != nil {
			rec.Detection = &model.DetectionResult{}
			if err := json.Unmarshal(detection, rec.Detection); err != nil {
				return nil, 0, fmt.Errorf("list: failed to unmarshal detection: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list: failed to iterate images: %w", err)
	}

	return records, total, nil
}

// StatsByOwner aggregates the owner's library in one query.
func (r *Repository) StatsByOwner(ctx context.Context, ownerID uuid.UUID) (model.OwnerStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE processed),
			COALESCE(SUM(size_bytes), 0),
			COALESCE(SUM((detection->>'face_count')::int), 0),
			COALESCE(AVG((detection->>'confidence')::float), 0)
		FROM images
		WHERE owner_id = $1
    `

	var stats model.OwnerStats
	err := r.db.Master.QueryRowContext(ctx, query, ownerID).Scan(
		&stats.TotalImages, &stats.ProcessedImages, &stats.TotalSize, &stats.TotalFaces, &stats.AvgConfidence,
	)
	if err != nil {
		return model.OwnerStats{}, fmt.Errorf("stats: failed to aggregate images: %w", err)
	}

	return stats, nil
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanRecord(row scanner) (model.ImageRecord, error) {
	var (
		rec       model.ImageRecord
		detection []byte
	)

	err := row.Scan(
		&rec.OwnerID, &rec.Filename, &rec.OriginalName, &rec.Size, &rec.MimeType,
		&rec.Path, &rec.UploadedAt, &rec.Processed, &rec.ProcessedAt, &detection,
	)
	if err != nil {
		return model.ImageRecord{}, err
	}

	if detection != nil {
		rec.Detection = &model.DetectionResult{}
		if err := json.Unmarshal(detection, rec.Detection); err != nil {
			return model.ImageRecord{}, fmt.Errorf("failed to unmarshal detection: %w", err)
		}
	}

	return rec, nil
}
