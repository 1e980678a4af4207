package towing

import (
	"encoding/json"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

// Top-level TowingInfo fields the backend must always supply.
var towingInfoRequired = []string{
	"vehicle",
	"drivetrain",
	"awdSystemType",
	"isDrivetrainEngagedWhenOff",
	"steeringLocksWhenOff",
	"towingSafetyLevel",
	"summary",
	"frontTowing",
	"rearTowing",
	"cautions",
}

// TowingMethodSchema describes one lift direction.
func TowingMethodSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"safetyLevel": {
				Type:        genai.TypeString,
				Enum:        methodSafetyEnum(),
				Description: "The safety classification for this specific towing method.",
			},
			"instructions": {
				Type:        genai.TypeString,
				Description: "Step-by-step instructions, one step per line, including any warnings or limitations for this method.",
			},
		},
		Required:         []string{"safetyLevel", "instructions"},
		PropertyOrdering: []string{"safetyLevel", "instructions"},
	}
}

// AWDVariantSchema describes the optional AWD/4WD trim block. Both lift directions are required.
func AWDVariantSchema() *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeObject,
		Description: "Towing information specifically for the AWD/4WD trim of this vehicle. Omit this field entirely if no AWD/4WD variant exists or if its towing procedure is identical to the primary result.",
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeString,
				Description: "A brief summary of the towing recommendation for the AWD/4WD variant.",
			},
			"frontTowing": TowingMethodSchema(),
			"rearTowing":  TowingMethodSchema(),
			"cautions": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Important warnings or cautions specific to the AWD/4WD variant.",
			},
			"awdSystemType": {
				Type:        genai.TypeString,
				Description: "The specific type of AWD system for this variant (e.g., Haldex, Torsen).",
			},
			"isDrivetrainEngagedWhenOff": {
				Type:        genai.TypeBoolean,
				Description: "True if a mechanical link between the axles persists for this variant when the vehicle is off.",
			},
			"steeringLocksWhenOff": {
				Type:        genai.TypeBoolean,
				Description: "True if the steering column locks when the vehicle is off.",
			},
		},
		Required: []string{
			"summary",
			"frontTowing",
			"rearTowing",
			"cautions",
			"awdSystemType",
			"isDrivetrainEngagedWhenOff",
			"steeringLocksWhenOff",
		},
	}
}

// TowingInfoSchema describes the full lookup result.
func TowingInfoSchema() *genai.Schema {
	// Optional fields accept an explicit null as well as absence.
	advice := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: desc,
			Nullable:    genai.Ptr(true),
		}
	}
	variant := AWDVariantSchema()
	variant.Nullable = genai.Ptr(true)
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"vehicle": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"year":  {Type: genai.TypeInteger, Description: "The vehicle's model year."},
					"make":  {Type: genai.TypeString, Description: "The manufacturer of the vehicle."},
					"model": {Type: genai.TypeString, Description: "The model of the vehicle."},
					"trim":  {Type: genai.TypeString, Description: "The specific trim level of the vehicle, or 'Unknown' if not specified."},
				},
				Required:         []string{"year", "make", "model", "trim"},
				PropertyOrdering: []string{"year", "make", "model", "trim"},
			},
			"drivetrain": {
				Type:        genai.TypeString,
				Description: "The vehicle's primary/most common drivetrain (e.g., FWD, RWD, Part-Time 4WD, Full-Time AWD, EV/Hybrid).",
			},
			"awdSystemType": {
				Type:        genai.TypeString,
				Description: "The specific type of AWD system if the primary drivetrain is AWD (e.g., Haldex, Torsen). Use 'N/A' otherwise.",
			},
			"isDrivetrainEngagedWhenOff": {
				Type:        genai.TypeBoolean,
				Description: "True if the drivetrain remains mechanically engaged between the axles when the vehicle is off. Use false if not AWD/4WD.",
			},
			"steeringLocksWhenOff": {
				Type:        genai.TypeBoolean,
				Description: "True if the steering column locks when the vehicle is off.",
			},
			"towingSafetyLevel": {
				Type:        genai.TypeString,
				Enum:        towingSafetyEnum(),
				Description: "A single, overall classification of the towing risk for the primary vehicle.",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "A brief, one-sentence summary of the towing recommendation for the primary vehicle.",
			},
			"frontTowing": TowingMethodSchema(),
			"rearTowing":  TowingMethodSchema(),
			"cautions": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Important general warnings or cautions for the primary vehicle.",
			},
			"anecdotalAdvice": advice("Field-tested tips from experienced operators for this vehicle. Omit if none are known."),
			"unlockAdvice":    advice("Known procedures for unlocking the vehicle or releasing the parking pawl without a key. Omit if none are known."),
			"awdVariantInfo":  variant,
		},
		Required: append([]string(nil), towingInfoRequired...),
		PropertyOrdering: []string{
			"vehicle", "drivetrain", "awdSystemType", "isDrivetrainEngagedWhenOff", "steeringLocksWhenOff",
			"towingSafetyLevel", "summary", "frontTowing", "rearTowing", "cautions",
			"anecdotalAdvice", "unlockAdvice", "awdVariantInfo",
		},
	}
}

// OptionsSchema describes a suggestion list response.
func OptionsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"options": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"options"},
	}
}

// CorrectedMakeSchema describes a make correction response.
func CorrectedMakeSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"correctedMake": {Type: genai.TypeString},
		},
		Required: []string{"correctedMake"},
	}
}

// IdentificationSchema describes a vehicle photo identification response. Either make and
// model or error is populated.
func IdentificationSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"year":  {Type: genai.TypeInteger, Description: "Estimated model year, if it can be determined.", Nullable: genai.Ptr(true)},
			"make":  {Type: genai.TypeString, Description: "The manufacturer of the vehicle."},
			"model": {Type: genai.TypeString, Description: "The model of the vehicle."},
			"error": {Type: genai.TypeString, Description: "Why the vehicle could not be identified. Omit when make and model are returned."},
		},
	}
}

// ClassificationSchema describes the VIN-versus-plate classification response.
func ClassificationSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type": {
				Type: genai.TypeString,
				Enum: []string{string(domain.CodeKindVIN), string(domain.CodeKindPlate), string(domain.CodeKindNone)},
			},
		},
		Required: []string{"type"},
	}
}

// JSONSchema renders a genai schema tree as a JSON Schema document.
func JSONSchema(s *genai.Schema) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if t := jsonType(s.Type); t != "" {
		if s.Nullable != nil && *s.Nullable {
			out["type"] = []string{t, "null"}
		} else {
			out["type"] = t
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		enum := make([]any, len(s.Enum))
		for i, v := range s.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, child := range s.Properties {
			props[name] = JSONSchema(child)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		out["items"] = JSONSchema(s.Items)
	}
	return out
}

// MarshalJSONSchema renders the schema as indented JSON text.
func MarshalJSONSchema(s *genai.Schema) (string, error) {
	data, err := json.MarshalIndent(JSONSchema(s), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RequiredFields lists the dotted paths of every required field, descending into optional
// objects as well. The result is sorted.
func RequiredFields(s *genai.Schema) []string {
	var out []string
	var walk func(prefix string, node *genai.Schema)
	walk = func(prefix string, node *genai.Schema) {
		if node == nil {
			return
		}
		for _, name := range node.Required {
			out = append(out, prefix+name)
		}
		for name, child := range node.Properties {
			if child != nil && child.Type == genai.TypeObject {
				walk(prefix+name+".", child)
			}
		}
	}
	walk("", s)
	sort.Strings(out)
	return out
}

func jsonType(t genai.Type) string {
	switch t {
	case genai.TypeObject:
		return "object"
	case genai.TypeArray:
		return "array"
	case genai.TypeString:
		return "string"
	case genai.TypeInteger:
		return "integer"
	case genai.TypeNumber:
		return "number"
	case genai.TypeBoolean:
		return "boolean"
	}
	return strings.ToLower(string(t))
}

func methodSafetyEnum() []string {
	levels := domain.MethodSafetyLevels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}

func towingSafetyEnum() []string {
	levels := domain.TowingSafetyLevels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}
