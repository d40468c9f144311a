package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// ModelRuntime runs inference over preprocessed image tensors. Load is called
// once per process lifetime; Infer is safe for concurrent use after Load.
type ModelRuntime interface {
	// Load fetches and prepares the model named by modelURI.
	Load(ctx context.Context, modelURI string) error

	// Infer returns the model output vector for the tensor.
	Infer(ctx context.Context, t *Tensor) ([]float64, error)
}

// HTTPRuntime is a ModelRuntime backed by a model-serving endpoint.
type HTTPRuntime struct {
	httpClient *http.Client
	predictURL string
}

// NewHTTPRuntime creates a runtime client. timeout bounds each call.
func NewHTTPRuntime(timeout time.Duration) *HTTPRuntime {
	return &HTTPRuntime{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Load verifies the model endpoint is reachable and remembers its predict URL.
func (r *HTTPRuntime) Load(ctx context.Context, modelURI string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelURI, nil)
	if err != nil {
		return fmt.Errorf("failed to create model request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ipipeline.VendorError{Status: resp.StatusCode, Message: "model not available"}
	}
	r.predictURL = modelURI + ":predict"
	return nil
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// Infer posts the tensor to the predict endpoint and returns the first
// prediction row.
func (r *HTTPRuntime) Infer(ctx context.Context, t *Tensor) ([]float64, error) {
	if r.predictURL == "" {
		return nil, fmt.Errorf("model not loaded")
	}

	body, err := json.Marshal(predictRequest{Instances: [][]float64{t.Pixels}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.predictURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = "predict call failed"
		}
		return nil, &ipipeline.VendorError{Status: resp.StatusCode, Message: msg}
	}
	if len(parsed.Predictions) == 0 {
		return nil, &ipipeline.VendorError{Status: resp.StatusCode, Message: "empty predictions"}
	}
	return parsed.Predictions[0], nil
}
