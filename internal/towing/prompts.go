package towing

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"google.golang.org/genai"
)

// PolicyVersion identifies the revision of the towing policy text sent to the backend.
// Bump it whenever prompts/towing.tmpl changes so stored search logs can be correlated.
const PolicyVersion = "2025-06.3"

const (
	maxQueryLength    = 200
	lookupTemperature = 0.2
	maxOptions        = 50
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.New("prompts").ParseFS(promptFS, "prompts/*.tmpl"))

type promptData struct {
	Query  string
	Schema string
	Limit  int
}

// ComposeTowingPrompt builds the grounded lookup request for a free-text vehicle query.
func ComposeTowingPrompt(query string) (Request, error) {
	q, err := cleanQuery(query)
	if err != nil {
		return Request{}, err
	}
	schema := TowingInfoSchema()
	schemaText, err := MarshalJSONSchema(schema)
	if err != nil {
		return Request{}, fmt.Errorf("towing: render schema: %w", err)
	}
	prompt, err := render("towing.tmpl", promptData{Query: q, Schema: schemaText})
	if err != nil {
		return Request{}, err
	}
	return Request{
		Operation:   OpTowingLookup,
		Prompt:      prompt,
		Schema:      schema,
		Mode:        ModeGrounded,
		Temperature: lookupTemperature,
	}, nil
}

// ComposeOptionsPrompt builds a suggestion listing request such as "models for 2021 Subaru".
func ComposeOptionsPrompt(query string) (Request, error) {
	q, err := cleanQuery(query)
	if err != nil {
		return Request{}, err
	}
	prompt, err := render("options.tmpl", promptData{Query: q, Limit: maxOptions})
	if err != nil {
		return Request{}, err
	}
	return Request{
		Operation: OpVehicleOptions,
		Prompt:    prompt,
		Schema:    OptionsSchema(),
		Mode:      ModeStructured,
	}, nil
}

// ComposeMakeCorrectionPrompt builds a request asking for the canonical manufacturer name.
func ComposeMakeCorrectionPrompt(input string) (Request, error) {
	q, err := cleanQuery(input)
	if err != nil {
		return Request{}, err
	}
	prompt, err := render("make.tmpl", promptData{Query: q})
	if err != nil {
		return Request{}, err
	}
	return Request{
		Operation: OpMakeCorrection,
		Prompt:    prompt,
		Schema:    CorrectedMakeSchema(),
		Mode:      ModeStructured,
	}, nil
}

// ComposeVINPrompt builds a plain text VIN reading request for img.
func ComposeVINPrompt(img Image) (Request, error) {
	return imageRequest(OpVINExtraction, "vin.tmpl", img, nil, ModeText)
}

// ComposeIdentifyPrompt builds a vehicle photo identification request for img.
func ComposeIdentifyPrompt(img Image) (Request, error) {
	return imageRequest(OpVehicleIdentify, "identify.tmpl", img, IdentificationSchema(), ModeStructured)
}

// ComposeClassifyPrompt builds a VIN-versus-plate classification request for img.
func ComposeClassifyPrompt(img Image) (Request, error) {
	return imageRequest(OpCodeClassify, "classify.tmpl", img, ClassificationSchema(), ModeStructured)
}

func imageRequest(op Operation, name string, img Image, schema *genai.Schema, mode Mode) (Request, error) {
	if len(img.Data) == 0 {
		return Request{}, fmt.Errorf("%w: image payload is empty", ErrInvalidQuery)
	}
	prompt, err := render(name, promptData{})
	if err != nil {
		return Request{}, err
	}
	return Request{
		Operation: op,
		Prompt:    prompt,
		Schema:    schema,
		Image:     &Image{Data: img.Data, MIMEType: img.ContentType()},
		Mode:      mode,
	}, nil
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("towing: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// cleanQuery collapses whitespace and neutralises quote characters so the query cannot
// terminate the quoted span it is embedded in.
func cleanQuery(query string) (string, error) {
	q := strings.Join(strings.Fields(query), " ")
	if q == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(q) > maxQueryLength {
		return "", fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, maxQueryLength)
	}
	return strings.NewReplacer(`"`, "'", "`", "'").Replace(q), nil
}
