// Package gemini adapts the Google Gen AI SDK to the towing.Generator contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kbkonsulting/Safe2Tow/internal/platform/metrics"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 45 * time.Second
)

var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("gemini: api key is required")
	// ErrEmptyResponse is returned when the backend answers without any text part.
	ErrEmptyResponse = errors.New("gemini: empty response")
)

// Logger records backend calls.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Models is the subset of *genai.Models used by Generator.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures Generator.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  Logger
}

// Generator implements towing.Generator on top of the Gemini API.
type Generator struct {
	models  Models
	model   string
	timeout time.Duration
	logger  Logger
	now     func() time.Time
}

var _ towing.Generator = (*Generator)(nil)

// New constructs a Generator with a Gemini API client.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrAPIKeyRequired
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return NewWithModels(client.Models, cfg)
}

// NewWithModels constructs a Generator over an existing models client.
func NewWithModels(models Models, cfg Config) (*Generator, error) {
	if models == nil {
		return nil, errors.New("gemini: models client is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Generator{
		models:  models,
		model:   model,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	return g.model
}

// Generate sends req to the model and returns the concatenated response text.
func (g *Generator) Generate(ctx context.Context, req towing.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	resp, err := g.models.GenerateContent(ctx, g.model, buildContents(req), buildConfig(req))
	elapsed := g.now().Sub(start)
	metrics.BackendLatency.WithLabelValues(string(req.Operation)).Observe(elapsed.Seconds())

	fields := map[string]any{
		"operation":  string(req.Operation),
		"model":      g.model,
		"mode":       string(req.Mode),
		"durationMs": elapsed.Milliseconds(),
	}
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(string(req.Operation), "error").Inc()
		fields["error"] = err.Error()
		g.logger(ctx, "gemini.generate.failed", fields)
		return "", fmt.Errorf("gemini: generate %s: %w", req.Operation, err)
	}

	text := responseText(resp)
	if text == "" {
		metrics.BackendRequestsTotal.WithLabelValues(string(req.Operation), "empty").Inc()
		fields["finishReason"] = finishReason(resp)
		g.logger(ctx, "gemini.generate.empty", fields)
		return "", ErrEmptyResponse
	}
	metrics.BackendRequestsTotal.WithLabelValues(string(req.Operation), "ok").Inc()
	if usage := resp.UsageMetadata; usage != nil {
		fields["promptTokens"] = usage.PromptTokenCount
		fields["outputTokens"] = usage.CandidatesTokenCount
	}
	g.logger(ctx, "gemini.generate", fields)
	return text, nil
}

func buildContents(req towing.Request) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.ContentType()))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req towing.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	switch req.Mode {
	case towing.ModeGrounded:
		// Search grounding cannot be combined with a response schema.
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	case towing.ModeStructured:
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}
	return cfg
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Text())
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}

// IsRetryable reports whether err is a transient Gemini API failure: rate limiting or a
// server-side error.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return retryableStatus(apiErrPtr.Code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
