package image

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/manupriyaaa/tracelens/internal/model"
)

type service interface {
	DetectFaces(ctx context.Context, ownerID uuid.UUID, imageIDs []string) (model.BatchReport, error)
}

// UploadedHandler runs face detection for every uploaded image event.
type UploadedHandler struct {
	service service
}

func NewUploadedHandler(s service) *UploadedHandler {
	return &UploadedHandler{service: s}
}

func (h *UploadedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var ev model.ImageEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	ownerID, err := uuid.Parse(ev.OwnerID)
	if err != nil {
		return fmt.Errorf("parse owner id: %w", err)
	}

	report, err := h.service.DetectFaces(ctx, ownerID, []string{ev.ImageID})
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}

	for _, o := range report.Outcomes {
		if !o.OK {
			zlog.Logger.Warn().
				Str("image_id", o.ImageID).
				Str("code", string(o.Code)).
				Msg("detection did not complete for uploaded image")
		}
	}

	return nil
}
