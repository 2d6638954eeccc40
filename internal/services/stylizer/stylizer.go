// Package stylizer wraps an HTTP image-edit endpoint that renders a photo in
// the project's illustration style. The call is best-effort: failures degrade
// to the original image upstream, they never fail a project.
package stylizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"relato/internal/config"
	"relato/internal/services"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	defaultPrompt      = "Redibuja esta foto como ilustración de guion, trazo limpio y colores planos."
)

// Client sends photos to the stylization API.
type Client struct {
	cfg        config.Stylizer
	httpClient *http.Client
}

// NewClient constructs a stylization client from configuration.
func NewClient(cfg config.Stylizer) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether stylization is configured at all.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Stylize sends one image and returns the stylized bytes.
func (c *Client) Stylize(ctx context.Context, filename string, image []byte) ([]byte, error) {
	if !c.Enabled() {
		return nil, errors.New("stylize: not configured")
	}
	if len(image) == 0 {
		return nil, errors.New("stylize: empty image")
	}
	if filename == "" {
		filename = "photo.jpg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("stylize: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("stylize: write image: %w", err)
	}
	if err := writer.WriteField("prompt", c.cfg.Prompt); err != nil {
		return nil, fmt.Errorf("stylize: write prompt field: %w", err)
	}
	if c.cfg.Model != "" {
		if err := writer.WriteField("model", c.cfg.Model); err != nil {
			return nil, fmt.Errorf("stylize: write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("stylize: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("stylize: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stylize: http error: %w", services.ErrExternalCall, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: stylize: read body: %w", services.ErrExternalCall, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout {
		return nil, fmt.Errorf("%w: stylize: http %d: %s",
			services.ErrExternalCall, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("stylize: http %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return decodeImagePayload(resp.Header.Get("Content-Type"), payload)
}

// decodeImagePayload accepts either raw image bytes or the OpenAI images
// schema with base64 data.
func decodeImagePayload(contentType string, payload []byte) ([]byte, error) {
	if strings.HasPrefix(contentType, "image/") {
		return payload, nil
	}

	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("stylize: decode response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, errors.New("stylize: empty image payload")
	}
	decoded, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding,
		strings.NewReader(parsed.Data[0].B64JSON)))
	if err != nil {
		return nil, fmt.Errorf("stylize: decode image: %w", err)
	}
	return decoded, nil
}
