package towing

import (
	"context"
	"net/http"

	"google.golang.org/genai"
)

// Operation names the logical call a request belongs to. It is used for logging and metrics.
type Operation string

const (
	OpTowingLookup    Operation = "towing_lookup"
	OpVehicleOptions  Operation = "vehicle_options"
	OpMakeCorrection  Operation = "make_correction"
	OpVINExtraction   Operation = "vin_extraction"
	OpVehicleIdentify Operation = "vehicle_identify"
	OpCodeClassify    Operation = "code_classify"
)

// Mode selects how the backend constrains generation.
type Mode string

const (
	// ModeStructured requests JSON output constrained by Request.Schema.
	ModeStructured Mode = "structured"
	// ModeGrounded enables web search grounding. Constrained decoding is unavailable in this
	// mode, so the schema travels in the prompt text and the parser enforces it.
	ModeGrounded Mode = "grounded"
	// ModeText requests plain text output.
	ModeText Mode = "text"
)

// Image is an inline image payload.
type Image struct {
	Data     []byte
	MIMEType string
}

// ContentType returns the declared MIME type, sniffing the payload when none was supplied.
func (i Image) ContentType() string {
	if i.MIMEType != "" {
		return i.MIMEType
	}
	return http.DetectContentType(i.Data)
}

// Request is everything a backend needs to produce raw text for one call.
type Request struct {
	Operation   Operation
	Prompt      string
	Schema      *genai.Schema
	Image       *Image
	Mode        Mode
	Temperature float32
}

// Generator is the generative backend contract.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func generate(ctx context.Context, gen Generator, req Request) (string, error) {
	raw, err := gen.Generate(ctx, req)
	if err != nil {
		return "", backendUnavailable(req.Operation, err)
	}
	return raw, nil
}
