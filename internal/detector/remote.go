package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/manupriyaaa/tracelens/internal/model"
)

const remoteProviderID = "remote"

// Remote delegates detection to an external inference service over HTTP.
// Any transport, status or decode failure is reported as a provider error;
// panics never escape to the batch.
type Remote struct {
	inferenceURL string
	client       *http.Client
}

// NewRemote creates a remote detector for the given inference endpoint.
// The timeout bounds the whole request; zero falls back to 30 seconds.
func NewRemote(inferenceURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Remote{
		inferenceURL: inferenceURL,
		client:       &http.Client{Timeout: timeout},
	}
}

// Provider returns the provider identifier recorded in results.
func (r *Remote) Provider() string {
	return remoteProviderID
}

// Detect posts the image as a multipart form and decodes the detection
// response. The result is normalized when the response carries the image
// dimensions; without them normalization is deferred to the caller.
func (r *Remote) Detect(ctx context.Context, src io.Reader) (model.DetectionResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: create form file: %v", ErrProvider, err)
	}

	if _, err := io.Copy(part, src); err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: copy image data: %v", ErrProvider, err)
	}

	if err := writer.Close(); err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: close form: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.inferenceURL, body)
	if err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: create request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: send request: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.DetectionResult{}, fmt.Errorf("%w: inference failed with status %d", ErrProvider, resp.StatusCode)
	}

	var result model.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.DetectionResult{}, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}

	if result.Provider == "" {
		result.Provider = remoteProviderID
	}

	// Some inference backends omit the image dimensions. Normalizing
	// against a zero frame would clamp every box away, so leave the
	// result as-is and let the caller fill defaults before normalizing.
	if result.ImageWidth > 0 && result.ImageHeight > 0 {
		result.Normalize()
	}

	return result, nil
}

// Ping checks that the inference service is reachable.
func (r *Remote) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.inferenceURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}

	return nil
}
