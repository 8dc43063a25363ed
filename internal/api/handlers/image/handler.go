package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/manupriyaaa/tracelens/internal/annotator"
	"github.com/manupriyaaa/tracelens/internal/api/respond"
	"github.com/manupriyaaa/tracelens/internal/middleware"
	"github.com/manupriyaaa/tracelens/internal/model"
	imagerepo "github.com/manupriyaaa/tracelens/internal/repository/image"
	imagesvc "github.com/manupriyaaa/tracelens/internal/service/image"
)

// maxMultipartMemory bounds the in-memory part of multipart parsing.
const maxMultipartMemory = 64 << 20

// uploadField is the multipart form field carrying the image files.
const uploadField = "images"

// service defines the interface for image-related operations.
type service interface {
	UploadImages(ctx context.Context, ownerID uuid.UUID, files []*multipart.FileHeader) (imagesvc.UploadReport, error)
	DetectFaces(ctx context.Context, ownerID uuid.UUID, imageIDs []string) (model.BatchReport, error)
	GetImage(ctx context.Context, ownerID, id uuid.UUID) (model.ImageRecord, error)
	OpenImage(ctx context.Context, ownerID, id uuid.UUID) (model.ImageRecord, io.ReadCloser, error)
	ListImages(ctx context.Context, ownerID uuid.UUID, f model.ListFilter) ([]model.ImageRecord, model.Pagination, error)
	Stats(ctx context.Context, ownerID uuid.UUID) (model.OwnerStats, error)
	DeleteImage(ctx context.Context, ownerID, id uuid.UUID) (imagesvc.DeleteResult, error)
	BulkDelete(ctx context.Context, ownerID uuid.UUID, imageIDs []string) (deleted, filesRemoved int)
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// Upload handles the HTTP request for uploading images. It reads the
// multipart form and hands the files to the service; the response reports
// accepted records and per-file rejections.
func (h *Handler) Upload(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	var files []*multipart.FileHeader
	if c.Request.MultipartForm != nil {
		files = c.Request.MultipartForm.File[uploadField]
	}

	report, err := h.service.UploadImages(c.Request.Context(), ownerID, files)
	if err != nil {
		if errors.Is(err, imagesvc.ErrNoFiles) || errors.Is(err, imagesvc.ErrTooManyFiles) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to upload images")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to upload images"))
		return
	}

	if len(report.Images) == 0 {
		// Every file was rejected by validation.
		respond.JSON(c, http.StatusBadRequest, report)
		return
	}

	respond.Created(c, report)
}

// DetectRequest is the batch detection request body.
type DetectRequest struct {
	ImageIDs []string `json:"image_ids"`
}

// DetectFaces runs face detection over a batch of the caller's images and
// returns the per-item outcomes. A batch with some failed items is still a
// 200; only invalid input fails the call.
func (h *Handler) DetectFaces(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	report, err := h.service.DetectFaces(c.Request.Context(), ownerID, req.ImageIDs)
	if err != nil {
		if errors.Is(err, imagesvc.ErrInvalidBatch) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("batch detection failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("face detection failed"))
		return
	}

	respond.OK(c, report)
}

// List returns one page of the caller's images, filterable by processed
// state and sortable by upload time, size or processing time.
func (h *Handler) List(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	f := model.ListFilter{
		SortBy:    c.DefaultQuery("sort_by", "uploaded_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))

	if raw := c.Query("processed"); raw != "" {
		processed := raw == "true"
		f.Processed = &processed
	}

	records, pagination, err := h.service.ListImages(c.Request.Context(), ownerID, f)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list images")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list images"))
		return
	}

	respond.OK(c, map[string]interface{}{
		"images":     records,
		"pagination": pagination,
	})
}

// Stats returns aggregate numbers over the caller's library.
func (h *Handler) Stats(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), ownerID)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to aggregate stats")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to aggregate stats"))
		return
	}

	respond.OK(c, stats)
}

// GetMeta returns metadata about the image without serving the file itself.
func (h *Handler) GetMeta(c *ginext.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	rec, err := h.service.GetImage(c.Request.Context(), ownerID, id)
	if err != nil {
		h.failLookup(c, err)
		return
	}

	respond.OK(c, rec)
}

// GetFile serves the stored image bytes.
func (h *Handler) GetFile(c *ginext.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	rec, reader, err := h.service.OpenImage(c.Request.Context(), ownerID, id)
	if err != nil {
		h.failLookup(c, err)
		return
	}
	defer reader.Close()

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.Image(c, http.StatusOK, rec.MimeType, reader)
}

// Annotated renders the stored detection result over the image and serves
// the annotated JPEG. An unprocessed record is a conflict, not an error.
func (h *Handler) Annotated(c *ginext.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	rec, reader, err := h.service.OpenImage(c.Request.Context(), ownerID, id)
	if err != nil {
		h.failLookup(c, err)
		return
	}
	defer reader.Close()

	if !rec.Processed || rec.Detection == nil {
		respond.Fail(c, http.StatusConflict, fmt.Errorf("image has not been processed yet"))
		return
	}

	buf, err := annotator.RenderJPEG(reader, *rec.Detection)
	if err != nil {
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to annotate image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to annotate image"))
		return
	}

	respond.JPEG(c, http.StatusOK, buf)
}

// Delete removes an image record and, best-effort, its backing file.
func (h *Handler) Delete(c *ginext.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	res, err := h.service.DeleteImage(c.Request.Context(), ownerID, id)
	if err != nil {
		h.failLookup(c, err)
		return
	}

	respond.OK(c, map[string]interface{}{
		"success":      true,
		"file_removed": res.FileRemoved,
	})
}

// BulkDeleteRequest is the bulk deletion request body.
type BulkDeleteRequest struct {
	ImageIDs []string `json:"image_ids"`
}

// BulkDelete removes several of the caller's images in one call.
func (h *Handler) BulkDelete(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ImageIDs) == 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("no image ids provided"))
		return
	}

	deleted, filesRemoved := h.service.BulkDelete(c.Request.Context(), ownerID, req.ImageIDs)

	respond.OK(c, map[string]interface{}{
		"deleted":       deleted,
		"files_removed": filesRemoved,
	})
}

// ownerAndID pulls the authenticated owner and the :id path parameter.
func (h *Handler) ownerAndID(c *ginext.Context) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return uuid.Nil, uuid.Nil, false
	}

	return ownerID, id, true
}

// failLookup maps a lookup failure to 404 or 500.
func (h *Handler) failLookup(c *ginext.Context, err error) {
	if errors.Is(err, imagerepo.ErrImageNotFound) {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
		return
	}

	zlog.Logger.Err(err).Msg("image lookup failed")
	respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("internal error"))
}
