package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/manupriyaaa/tracelens/internal/model"
	imagerepo "github.com/manupriyaaa/tracelens/internal/repository/image"
)

// originalsDir is the bucket subdirectory for uploaded source images.
const originalsDir = "original"

var (
	// ErrInvalidBatch rejects an empty or oversized detection batch before
	// any item is touched.
	ErrInvalidBatch = errors.New("invalid batch: empty or too many image ids")

	// ErrNoFiles rejects an upload request carrying no files.
	ErrNoFiles = errors.New("no images uploaded")

	// ErrTooManyFiles rejects the whole upload request when the per-request
	// file ceiling is exceeded. Nothing is stored.
	ErrTooManyFiles = errors.New("too many files in one request")
)

// imageRepo defines the record store operations the service relies on.
type imageRepo interface {
	Create(ctx context.Context, rec model.ImageRecord) (uuid.UUID, error)
	GetByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error)
	UpdateDetectionResult(ctx context.Context, id uuid.UUID, res model.DetectionResult) error
	DeleteByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, f model.ListFilter) ([]model.ImageRecord, int, error)
	StatsByOwner(ctx context.Context, ownerID uuid.UUID) (model.OwnerStats, error)
}

// fileStorage defines the interface for storing files (e.g., MinIO or S3).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader, size int64, contentType string) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// faceDetector runs detection over image bytes.
type faceDetector interface {
	Detect(ctx context.Context, r io.Reader) (model.DetectionResult, error)
	Provider() string
}

// EventProducer publishes lifecycle events. Publishing is best-effort; a
// broker failure never fails the request that triggered it.
type EventProducer interface {
	Publish(ctx context.Context, ev model.ImageEvent) error
}

// UploadPolicy is the intake policy for one upload request.
type UploadPolicy struct {
	MaxFileSize  int64
	MaxFiles     int
	AllowedTypes []string
}

// DetectPolicy bounds one detection batch.
type DetectPolicy struct {
	MaxBatchSize int
}

// UploadRejection reports one file refused during intake.
type UploadRejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UploadReport is the per-file outcome of one upload request. A rejected
// file never aborts acceptance of its siblings.
type UploadReport struct {
	Images   []model.ImageRecord `json:"images"`
	Rejected []UploadRejection   `json:"rejected,omitempty"`
}

// DeleteResult reports a record deletion; FileRemoved is false when the
// backing file could not be confirmed gone.
type DeleteResult struct {
	FileRemoved bool `json:"file_removed"`
}

// Service implements the image lifecycle: upload intake, batch face
// detection, listing, stats and deletion. All collaborators are injected;
// there is no ambient global state.
type Service struct {
	repo     imageRepo
	storage  fileStorage
	detector faceDetector
	producer EventProducer // nil when eventing is disabled

	uploadPolicy UploadPolicy
	detectPolicy DetectPolicy
}

// NewService creates a new Service. producer may be nil.
func NewService(repo imageRepo, fs fileStorage, d faceDetector, p EventProducer, up UploadPolicy, dp DetectPolicy) *Service {
	if up.MaxFiles <= 0 {
		up.MaxFiles = 10
	}
	if up.MaxFileSize <= 0 {
		up.MaxFileSize = 5 * 1024 * 1024
	}
	if dp.MaxBatchSize <= 0 {
		dp.MaxBatchSize = 10
	}

	return &Service{
		repo:         repo,
		storage:      fs,
		detector:     d,
		producer:     p,
		uploadPolicy: up,
		detectPolicy: dp,
	}
}

// UploadImages validates and stores the uploaded files, creating one record
// per accepted file. The request is rejected wholesale when it carries more
// than MaxFiles; individual files failing validation are reported without
// aborting the rest. A record that cannot be persisted takes its stored
// object down with it, so no orphaned files remain.
func (s *Service) UploadImages(ctx context.Context, ownerID uuid.UUID, files []*multipart.FileHeader) (UploadReport, error) {
	if len(files) == 0 {
		return UploadReport{}, ErrNoFiles
	}
	if len(files) > s.uploadPolicy.MaxFiles {
		return UploadReport{}, fmt.Errorf("%w: got %d, limit %d", ErrTooManyFiles, len(files), s.uploadPolicy.MaxFiles)
	}

	var report UploadReport

	for _, header := range files {
		rec, err := s.ingestFile(ctx, ownerID, header)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("file", header.Filename).Msg("upload: file rejected")
			report.Rejected = append(report.Rejected, UploadRejection{
				Name:   header.Filename,
				Reason: err.Error(),
			})
			continue
		}

		report.Images = append(report.Images, rec)
		s.publish(ctx, model.ImageEvent{
			Type:    model.EventImageUploaded,
			ImageID: rec.ID.String(),
			OwnerID: ownerID.String(),
			Path:    rec.Path,
			At:      time.Now().UnixMilli(),
		})
	}

	return report, nil
}

// ingestFile validates one file, writes it to storage and registers the record.
func (s *Service) ingestFile(ctx context.Context, ownerID uuid.UUID, header *multipart.FileHeader) (model.ImageRecord, error) {
	contentType := strings.ToLower(header.Header.Get("Content-Type"))
	if !s.typeAllowed(contentType) {
		return model.ImageRecord{}, fmt.Errorf("unsupported type %q", contentType)
	}

	if header.Size > s.uploadPolicy.MaxFileSize {
		return model.ImageRecord{}, fmt.Errorf("file too large: %d bytes, limit %d", header.Size, s.uploadPolicy.MaxFileSize)
	}

	src, err := header.Open()
	if err != nil {
		return model.ImageRecord{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	storedName := uuid.New().String() + ext

	path, err := s.storage.Save(ctx, originalsDir, storedName, src, header.Size, contentType)
	if err != nil {
		return model.ImageRecord{}, fmt.Errorf("failed to store file: %w", err)
	}

	rec := model.ImageRecord{
		OwnerID:      ownerID,
		Filename:     storedName,
		OriginalName: header.Filename,
		Size:         header.Size,
		MimeType:     contentType,
		Path:         path,
		UploadedAt:   time.Now().UTC(),
	}

	id, err := s.repo.Create(ctx, rec)
	if err != nil {
		// The object is already written; take it back out so the bucket
		// holds no files without a record.
		if delErr := s.storage.Delete(ctx, path); delErr != nil {
			zlog.Logger.Error().Err(delErr).Str("path", path).Msg("upload: failed to clean up orphaned file")
		}
		return model.ImageRecord{}, fmt.Errorf("failed to save record: %w", err)
	}

	rec.ID = id

	return rec, nil
}

func (s *Service) typeAllowed(contentType string) bool {
	for _, t := range s.uploadPolicy.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// DetectFaces runs face detection for a batch of image ids belonging to one
// owner. Items are processed sequentially in input order and one item's
// failure never aborts the batch. Only records that pass the ownership and
// file checks and whose detection succeeds are mutated; re-running detection
// on a processed record overwrites the prior result.
func (s *Service) DetectFaces(ctx context.Context, ownerID uuid.UUID, imageIDs []string) (model.BatchReport, error) {
	if len(imageIDs) == 0 || len(imageIDs) > s.detectPolicy.MaxBatchSize {
		return model.BatchReport{}, fmt.Errorf("%w: got %d, limit %d", ErrInvalidBatch, len(imageIDs), s.detectPolicy.MaxBatchSize)
	}

	var report model.BatchReport

	for _, rawID := range imageIDs {
		outcome, err := s.detectOne(ctx, ownerID, rawID)
		if err != nil {
			// System-level fault (e.g. database unreachable): the whole
			// call fails, per-item reporting does not apply.
			return model.BatchReport{}, err
		}
		report.Add(outcome)
	}

	return report, nil
}

// detectOne handles a single batch item and maps every expected failure to
// a stable outcome code. Only system-level faults come back as an error.
func (s *Service) detectOne(ctx context.Context, ownerID uuid.UUID, rawID string) (model.ItemOutcome, error) {
	outcome := model.ItemOutcome{ImageID: rawID}

	id, err := uuid.Parse(rawID)
	if err != nil {
		// An unparseable id can never resolve to a record owned by the
		// caller, so it reads the same as a missing one.
		outcome.Code = model.OutcomeNotFound
		return outcome, nil
	}

	rec, err := s.repo.GetByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			outcome.Code = model.OutcomeNotFound
			return outcome, nil
		}
		return model.ItemOutcome{}, fmt.Errorf("detect: record lookup failed: %w", err)
	}

	exists, err := s.storage.Exists(ctx, rec.Path)
	if err != nil || !exists {
		if err != nil {
			zlog.Logger.Error().Err(err).Str("image_id", rawID).Msg("detect: storage check failed")
		}
		outcome.Code = model.OutcomeFileMissing
		return outcome, nil
	}

	src, err := s.storage.Load(ctx, rec.Path)
	if err != nil {
		outcome.Code = model.OutcomeFileMissing
		return outcome, nil
	}

	start := time.Now()
	result, err := s.detector.Detect(ctx, src)
	src.Close()
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", rawID).Msg("detect: provider failed")
		outcome.Code = model.OutcomeDetectionFailed
		return outcome, nil
	}

	result.ProcessingMS = time.Since(start).Milliseconds()
	if result.ImageWidth <= 0 {
		result.ImageWidth = 800
	}
	if result.ImageHeight <= 0 {
		result.ImageHeight = 600
	}
	if result.Provider == "" {
		result.Provider = s.detector.Provider()
	}
	result.Normalize()

	if err := s.repo.UpdateDetectionResult(ctx, id, result); err != nil {
		// Detection succeeded but the result is lost; this must not be
		// reported as success.
		zlog.Logger.Error().Err(err).Str("image_id", rawID).Msg("detect: failed to persist result")
		outcome.Code = model.OutcomePersistFailed
		return outcome, nil
	}

	zlog.Logger.Info().
		Str("image_id", rawID).
		Int("faces", result.FaceCount).
		Int64("processing_ms", result.ProcessingMS).
		Msg("face detection completed")

	s.publish(ctx, model.ImageEvent{
		Type:      model.EventImageProcessed,
		ImageID:   rawID,
		OwnerID:   ownerID.String(),
		Path:      rec.Path,
		FaceCount: result.FaceCount,
		At:        time.Now().UnixMilli(),
	})

	outcome.OK = true
	outcome.Result = &result

	return outcome, nil
}

// GetImage returns the record metadata for the owner.
func (s *Service) GetImage(ctx context.Context, ownerID, id uuid.UUID) (model.ImageRecord, error) {
	return s.repo.GetByIDAndOwner(ctx, id, ownerID)
}

// OpenImage returns the record plus a reader over its stored bytes.
func (s *Service) OpenImage(ctx context.Context, ownerID, id uuid.UUID) (model.ImageRecord, io.ReadCloser, error) {
	rec, err := s.repo.GetByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return model.ImageRecord{}, nil, err
	}

	src, err := s.storage.Load(ctx, rec.Path)
	if err != nil {
		return model.ImageRecord{}, nil, fmt.Errorf("open: failed to load file: %w", err)
	}

	return rec, src, nil
}

// ListImages returns one page of the owner's library.
func (s *Service) ListImages(ctx context.Context, ownerID uuid.UUID, f model.ListFilter) ([]model.ImageRecord, model.Pagination, error) {
	records, total, err := s.repo.ListByOwner(ctx, ownerID, f)
	if err != nil {
		return nil, model.Pagination{}, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = 20
	}
	pages := (total + limit - 1) / limit

	return records, model.Pagination{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}

// Stats aggregates the owner's library.
func (s *Service) Stats(ctx context.Context, ownerID uuid.UUID) (model.OwnerStats, error) {
	return s.repo.StatsByOwner(ctx, ownerID)
}

// DeleteImage removes the record and then the backing file. File removal is
// best-effort: its failure is surfaced in the result but never blocks the
// record deletion.
func (s *Service) DeleteImage(ctx context.Context, ownerID, id uuid.UUID) (DeleteResult, error) {
	rec, err := s.repo.DeleteByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return DeleteResult{}, err
	}

	res := DeleteResult{FileRemoved: true}

	exists, err := s.storage.Exists(ctx, rec.Path)
	if err != nil || !exists {
		res.FileRemoved = false
		return res, nil
	}

	if err := s.storage.Delete(ctx, rec.Path); err != nil {
		zlog.Logger.Warn().Err(err).Str("path", rec.Path).Msg("delete: failed to remove file")
		res.FileRemoved = false
	}

	return res, nil
}

// BulkDelete removes several records; per-id failures are skipped the same
// way batch detection skips them.
func (s *Service) BulkDelete(ctx context.Context, ownerID uuid.UUID, imageIDs []string) (deleted, filesRemoved int) {
	for _, rawID := range imageIDs {
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}

		res, err := s.DeleteImage(ctx, ownerID, id)
		if err != nil {
			continue
		}

		deleted++
		if res.FileRemoved {
			filesRemoved++
		}
	}

	return deleted, filesRemoved
}

// publish sends an event when a producer is wired; failures are logged only.
func (s *Service) publish(ctx context.Context, ev model.ImageEvent) {
	if s.producer == nil {
		return
	}

	if err := s.producer.Publish(ctx, ev); err != nil {
		zlog.Logger.Warn().Err(err).Str("type", ev.Type).Str("image_id", ev.ImageID).Msg("failed to publish event")
	}
}
