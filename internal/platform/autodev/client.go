// Package autodev decodes license plate photos to VINs through the auto.dev plate decoder.
package autodev

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/platform/metrics"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

const (
	// DefaultEndpoint is the public plate decoder endpoint.
	DefaultEndpoint = "https://api.auto.dev/v1/plate-decoder"
	defaultTimeout  = 20 * time.Second
	maxErrorBody    = 4 << 10
)

// ErrPlateDecoderNotConfigured is returned when no API key is available.
var ErrPlateDecoderNotConfigured = errors.New("autodev: plate decoder is not configured")

// APIError carries a non-2xx answer from the decoder.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("autodev: plate decoder returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("autodev: plate decoder returned %d", e.StatusCode)
}

// Config configures Client.
type Config struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// Client calls the plate decoder API.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

type decodeResponse struct {
	VIN   string `json:"vin"`
	Error string `json:"error"`
}

// New constructs a Client. A missing API key is not an error here; DecodePlate reports
// ErrPlateDecoderNotConfigured so the rest of the scan flow keeps working.
func New(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: endpoint,
		http:     client,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// DecodePlate uploads img and returns the VIN registered to the plate. A response without a
// usable VIN fails with towing.ErrExtractionNotFound.
func (c *Client) DecodePlate(ctx context.Context, img towing.Image) (string, error) {
	if !c.Configured() {
		return "", ErrPlateDecoderNotConfigured
	}
	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: image payload is empty", towing.ErrInvalidQuery)
	}

	body, contentType, err := multipartImage(img)
	if err != nil {
		return "", fmt.Errorf("autodev: build request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("autodev: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PlateDecodesTotal.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("autodev: decode plate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.PlateDecodesTotal.WithLabelValues("api_error").Inc()
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var payload decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		metrics.PlateDecodesTotal.WithLabelValues("malformed").Inc()
		return "", fmt.Errorf("autodev: decode response: %w", err)
	}
	vin, ok := towing.NormalizeVIN(payload.VIN)
	if !ok {
		metrics.PlateDecodesTotal.WithLabelValues("not_found").Inc()
		return "", fmt.Errorf("%w: plate decoder returned no VIN", towing.ErrExtractionNotFound)
	}
	metrics.PlateDecodesTotal.WithLabelValues("ok").Inc()
	return vin, nil
}

func multipartImage(img towing.Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="plate.jpg"`)
	header.Set("Content-Type", img.ContentType())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload decodeResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
