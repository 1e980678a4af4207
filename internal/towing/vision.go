package towing

import (
	"context"
	"fmt"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

// Vision wraps the image understanding operations behind one calling convention.
type Vision struct {
	gen Generator
}

// NewVision constructs a Vision backed by gen.
func NewVision(gen Generator) (*Vision, error) {
	if gen == nil {
		return nil, fmt.Errorf("towing: vision requires a generator")
	}
	return &Vision{gen: gen}, nil
}

// ExtractVIN reads a VIN from img. The response is filtered to the VIN alphabet and truncated
// to the first 17 characters. It returns ErrExtractionNotFound when fewer than 17 valid
// characters remain, never a partial VIN.
func (v *Vision) ExtractVIN(ctx context.Context, img Image) (string, error) {
	req, err := ComposeVINPrompt(img)
	if err != nil {
		return "", err
	}
	raw, err := generate(ctx, v.gen, req)
	if err != nil {
		return "", err
	}
	vin := FilterVIN(raw)
	if !ValidVIN(vin) {
		return "", fmt.Errorf("%w: no 17-character VIN in image", ErrExtractionNotFound)
	}
	return vin, nil
}

// IdentifyVehicle identifies the vehicle shown in img. An IdentificationFailure is a normal
// outcome and is returned with a nil error.
func (v *Vision) IdentifyVehicle(ctx context.Context, img Image) (domain.VehicleIdentification, error) {
	req, err := ComposeIdentifyPrompt(img)
	if err != nil {
		return nil, err
	}
	raw, err := generate(ctx, v.gen, req)
	if err != nil {
		return nil, err
	}
	return ParseIdentification(raw)
}

// ClassifyCode labels img as a VIN, a license plate or neither.
func (v *Vision) ClassifyCode(ctx context.Context, img Image) (domain.CodeKind, error) {
	req, err := ComposeClassifyPrompt(img)
	if err != nil {
		return "", err
	}
	raw, err := generate(ctx, v.gen, req)
	if err != nil {
		return "", err
	}
	return ParseClassification(raw)
}
