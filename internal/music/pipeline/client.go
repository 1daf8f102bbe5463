// Package pipeline provides the concrete generation backends behind
// core.PipelineFactory: an inference sidecar reached over HTTP, and a local
// runner binary executed once per generation.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/music-service/internal/core"
)

// API endpoints and paths.
const (
	apiPipelines = "/v1/pipelines"
	apiGenerate  = "/v1/generate"
	apiHealth    = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeAudio  = "audio/"
	acceptAudio       = "audio/wav, audio/mpeg"
)

// Client errors.
var (
	ErrEmptyPipelineID     = errors.New("sidecar returned an empty pipeline id")
	ErrEmptyAudio          = errors.New("received empty audio data")
	ErrUnexpectedMediaType = errors.New("unexpected content type")
)

const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
)

// HTTPClient talks to the inference sidecar that hosts the generation model.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest is the payload that asks the sidecar to load a pipeline.
type LoadRequest struct {
	PretrainedPath string `json:"pretrained_path"`
	Device         string `json:"device"`
	DType          string `json:"dtype"`
	Version        string `json:"version"`
}

// LoadResponse identifies a pipeline loaded by the sidecar.
type LoadResponse struct {
	PipelineID string `json:"pipeline_id"`
}

// GenerateRequest is the payload of a single generation.
type GenerateRequest struct {
	PipelineID       string  `json:"pipeline_id"`
	Lyrics           string  `json:"lyrics"`
	Tags             string  `json:"tags"`
	Format           string  `json:"format"`
	MaxAudioLengthMs int     `json:"max_audio_length_ms"`
	TopK             int     `json:"topk"`
	Temperature      float64 `json:"temperature"`
	CFGScale         float64 `json:"cfg_scale"`
}

// ErrorResponse is the structured error body returned by the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the sidecar at baseURL
// (e.g. "http://127.0.0.1:8000"). A zero timeout means no client timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LoadPipeline asks the sidecar to load a pipeline for cfg and returns its id.
func (c *HTTPClient) LoadPipeline(ctx context.Context, cfg core.PipelineConfig) (string, error) {
	payload := LoadRequest{
		PretrainedPath: cfg.PretrainedPath,
		Device:         string(cfg.Device),
		DType:          string(cfg.DType),
		Version:        cfg.Version,
	}

	resp, err := c.postJSON(ctx, apiPipelines, payload, contentTypeJSON)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var loaded LoadResponse

	err = json.NewDecoder(resp.Body).Decode(&loaded)
	if err != nil {
		return "", fmt.Errorf("failed to decode load response: %w", err)
	}

	if loaded.PipelineID == "" {
		return "", ErrEmptyPipelineID
	}

	return loaded.PipelineID, nil
}

// Generate runs one generation on a loaded pipeline and returns the encoded audio.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	resp, err := c.postJSON(ctx, apiGenerate, req, acceptAudio)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeAudio) {
		return nil, fmt.Errorf("%w: expected audio/*, got %q", ErrUnexpectedMediaType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// UnloadPipeline releases a pipeline held by the sidecar.
func (c *HTTPClient) UnloadPipeline(ctx context.Context, pipelineID string) error {
	endpoint := c.baseURL + apiPipelines + "/" + url.PathEscape(pipelineID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to unload pipeline %s: %w", pipelineID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return parseErrorResponse(resp)
	}

	return nil
}

// HealthCheck verifies that the sidecar is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured error from the sidecar and falls
// back to the raw body when the response is not JSON.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
}
