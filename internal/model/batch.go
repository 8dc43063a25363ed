package model

// OutcomeCode classifies why a single batch item failed.
type OutcomeCode string

const (
	OutcomeNotFound        OutcomeCode = "not_found"
	OutcomeFileMissing     OutcomeCode = "file_missing"
	OutcomeDetectionFailed OutcomeCode = "detection_failed"
	OutcomePersistFailed   OutcomeCode = "persist_failed"
)

// ItemOutcome is the per-image result of a batch detection run.
// Either OK is true and Result is set, or Code carries a stable error code.
type ItemOutcome struct {
	ImageID string           `json:"image_id"`
	OK      bool             `json:"ok"`
	Code    OutcomeCode      `json:"code,omitempty"`
	Result  *DetectionResult `json:"result,omitempty"`
}

// BatchReport is the full outcome of one detection batch. Outcomes are in
// the same order as the requested ids; the batch never aborts early.
type BatchReport struct {
	Outcomes  []ItemOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Add appends an outcome and updates the aggregate counters.
func (b *BatchReport) Add(o ItemOutcome) {
	b.Outcomes = append(b.Outcomes, o)
	if o.OK {
		b.Succeeded++
	} else {
		b.Failed++
	}
}

// ImageEvent is the envelope published to the event stream after an image
// is uploaded or processed.
type ImageEvent struct {
	Type      string `json:"type"` // "image.uploaded" / "image.processed"
	ImageID   string `json:"image_id"`
	OwnerID   string `json:"owner_id"`
	Path      string `json:"path"`
	FaceCount int    `json:"face_count,omitempty"`
	At        int64  `json:"at"` // unix millis
}

// Event type names.
const (
	EventImageUploaded  = "image.uploaded"
	EventImageProcessed = "image.processed"
)
