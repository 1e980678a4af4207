package towing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

var compiledTowingSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(TowingInfoSchema())))
})

// ExtractJSONObject returns the span from the first '{' to the last '}' inclusive.
func ExtractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return "", malformed(raw, "no JSON object found", nil)
	}
	return raw[start : end+1], nil
}

type wireVehicle struct {
	Year  json.Number `json:"year"`
	Make  string      `json:"make"`
	Model string      `json:"model"`
	Trim  string      `json:"trim"`
}

type wireTowingInfo struct {
	domain.TowingInfo
	Vehicle *wireVehicle `json:"vehicle"`
}

// ParseTowingInfo converts raw backend text into a TowingInfo.
//
// Text surrounding the outermost JSON object is ignored. A payload that decodes but names no
// make or model fails with ErrUnrecognizedVehicle. Anything else that does not satisfy
// TowingInfoSchema, including unknown enum values and a partial awdVariantInfo, fails with
// ErrMalformedResponse.
func ParseTowingInfo(raw string) (domain.TowingInfo, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return domain.TowingInfo{}, err
	}

	var wire wireTowingInfo
	if err := decodeStrict(obj, &wire); err != nil {
		return domain.TowingInfo{}, malformed(raw, "decode towing info", err)
	}

	if wire.Vehicle == nil || strings.TrimSpace(wire.Vehicle.Make) == "" || strings.TrimSpace(wire.Vehicle.Model) == "" {
		return domain.TowingInfo{}, ErrUnrecognizedVehicle
	}

	if err := validateTowingDocument(obj); err != nil {
		return domain.TowingInfo{}, malformed(raw, "schema violation", err)
	}

	year, err := integralYear(wire.Vehicle.Year)
	if err != nil {
		return domain.TowingInfo{}, malformed(raw, "vehicle year", err)
	}

	info := wire.TowingInfo
	info.Vehicle = domain.VehicleDescriptor{
		Year:  year,
		Make:  strings.TrimSpace(wire.Vehicle.Make),
		Model: strings.TrimSpace(wire.Vehicle.Model),
		Trim:  strings.TrimSpace(wire.Vehicle.Trim),
	}
	return info, nil
}

func validateTowingDocument(obj string) error {
	schema, err := compiledTowingSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return errors.New(strings.Join(problems, "; "))
}

// ParseOptions decodes a suggestion list payload. Cleaning and capping is left to the caller.
func ParseOptions(raw string) ([]string, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Options []string `json:"options"`
	}
	if err := decodeStrict(obj, &payload); err != nil {
		return nil, malformed(raw, "decode options", err)
	}
	return payload.Options, nil
}

// ParseCorrectedMake decodes a make correction payload.
func ParseCorrectedMake(raw string) (string, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return "", err
	}
	var payload struct {
		CorrectedMake string `json:"correctedMake"`
	}
	if err := decodeStrict(obj, &payload); err != nil {
		return "", malformed(raw, "decode corrected make", err)
	}
	corrected := strings.TrimSpace(payload.CorrectedMake)
	if corrected == "" {
		return "", malformed(raw, "correctedMake is empty", nil)
	}
	return corrected, nil
}

// ParseIdentification decodes a vehicle photo identification payload.
//
// A complete make and model yields IdentifiedVehicle. An error reason without a complete
// make and model yields IdentificationFailure. Every other combination is malformed.
func ParseIdentification(raw string) (domain.VehicleIdentification, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Year  json.RawMessage `json:"year"`
		Make  string          `json:"make"`
		Model string          `json:"model"`
		Error string          `json:"error"`
	}
	if err := decodeStrict(obj, &payload); err != nil {
		return nil, malformed(raw, "decode identification", err)
	}

	mk := strings.TrimSpace(payload.Make)
	model := strings.TrimSpace(payload.Model)
	reason := strings.TrimSpace(payload.Error)
	complete := mk != "" && model != ""

	switch {
	case complete && reason != "":
		return nil, malformed(raw, "identification carries both a vehicle and an error", nil)
	case complete:
		return domain.IdentifiedVehicle{Year: estimatedYear(payload.Year), Make: mk, Model: model}, nil
	case reason != "":
		return domain.IdentificationFailure{Reason: reason}, nil
	default:
		return nil, malformed(raw, "identification requires both make and model", nil)
	}
}

// ParseClassification decodes the VIN-versus-plate label. A bare label without JSON is accepted.
func ParseClassification(raw string) (domain.CodeKind, error) {
	label := strings.Trim(strings.TrimSpace(raw), `"'.`)
	if obj, err := ExtractJSONObject(raw); err == nil {
		var payload struct {
			Type string `json:"type"`
		}
		if err := decodeStrict(obj, &payload); err != nil {
			return "", malformed(raw, "decode classification", err)
		}
		label = payload.Type
	}
	kind := domain.CodeKind(strings.ToLower(strings.TrimSpace(label)))
	if !kind.Valid() {
		return "", malformed(raw, fmt.Sprintf("unknown classification %q", label), nil)
	}
	return kind, nil
}

// decodeStrict decodes exactly one JSON value from obj.
func decodeStrict(obj string, v any) error {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// estimatedYear keeps an identification's year only when it is a positive integral number.
// Strings such as "unknown", null and fractions are dropped.
func estimatedYear(raw json.RawMessage) *int {
	var n json.Number
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil
	}
	year, err := integralYear(n)
	if err != nil || year <= 0 {
		return nil
	}
	return &year
}

func integralYear(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < 0 || f > 9999 {
		return 0, fmt.Errorf("year %s is not a model year", n)
	}
	return int(f), nil
}
