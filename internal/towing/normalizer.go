package towing

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

const (
	minMakeCorrectionLength = 2
	minSuggestionLength     = 3
	maxOptionLength         = 60
)

//go:embed makes.yaml
var makesYAML []byte

type makeCatalog struct {
	Makes []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"makes"`
}

var loadMakeAliases = sync.OnceValues(func() (map[string]string, error) {
	var catalog makeCatalog
	if err := yaml.Unmarshal(makesYAML, &catalog); err != nil {
		return nil, fmt.Errorf("towing: parse makes.yaml: %w", err)
	}
	aliases := make(map[string]string, len(catalog.Makes)*3)
	for _, entry := range catalog.Makes {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		aliases[foldKey(name)] = name
		for _, alias := range entry.Aliases {
			if key := foldKey(alias); key != "" {
				aliases[key] = name
			}
		}
	}
	return aliases, nil
})

var (
	optionPrefix    = regexp.MustCompile(`^\s*(?:[-*•]+\s*|\d+[.)]\s+)`)
	commercePattern = regexp.MustCompile(`(?i)\b(?:used|for sale|sale|price[sd]?|msrp|cheap|deals?|dealers?|certified|pre-owned|mileage|colou?rs?)\b|[$€£]`)
)

// NormalizerLogger receives diagnostic events for advisory failures that are not surfaced.
type NormalizerLogger func(ctx context.Context, event string, fields map[string]any)

// NormalizerOption customises a Normalizer.
type NormalizerOption func(*Normalizer)

// WithNormalizerLogger records swallowed backend failures.
func WithNormalizerLogger(logger NormalizerLogger) NormalizerOption {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Normalizer corrects manufacturer names and lists search suggestions. Both operations are
// advisory: failures degrade to the unchanged input or an empty list.
type Normalizer struct {
	gen    Generator
	logger NormalizerLogger
}

// NewNormalizer constructs a Normalizer backed by gen.
func NewNormalizer(gen Generator, opts ...NormalizerOption) (*Normalizer, error) {
	if gen == nil {
		return nil, fmt.Errorf("towing: normalizer requires a generator")
	}
	n := &Normalizer{gen: gen, logger: func(context.Context, string, map[string]any) {}}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n, nil
}

// StaticMake resolves input through the built-in alias table only.
func StaticMake(input string) (string, bool) {
	aliases, err := loadMakeAliases()
	if err != nil {
		return "", false
	}
	name, ok := aliases[foldKey(input)]
	return name, ok
}

// CorrectMake returns the canonical manufacturer name for input. Known spellings are resolved
// without a backend call. On any failure the original input is returned unchanged.
func (n *Normalizer) CorrectMake(ctx context.Context, input string) string {
	trimmed := strings.TrimSpace(input)
	if utf8.RuneCountInString(trimmed) < minMakeCorrectionLength {
		return input
	}
	if name, ok := StaticMake(trimmed); ok {
		return name
	}

	req, err := ComposeMakeCorrectionPrompt(trimmed)
	if err != nil {
		return input
	}
	raw, err := generate(ctx, n.gen, req)
	if err != nil {
		n.logger(ctx, "make_correction_failed", map[string]any{"input": trimmed, "error": err.Error()})
		return input
	}
	corrected, err := ParseCorrectedMake(raw)
	if err != nil {
		n.logger(ctx, "make_correction_unparsed", map[string]any{"input": trimmed, "error": err.Error()})
		return input
	}
	if name, ok := StaticMake(corrected); ok {
		return name
	}
	return corrected
}

// Suggest lists up to 50 distinct suggestion strings for a free-form query such as
// "models for 2021 Subaru". Failures yield an empty, non-nil slice.
func (n *Normalizer) Suggest(ctx context.Context, query string) []string {
	req, err := ComposeOptionsPrompt(query)
	if err != nil {
		return []string{}
	}
	raw, err := generate(ctx, n.gen, req)
	if err != nil {
		n.logger(ctx, "suggestions_failed", map[string]any{"query": query, "error": err.Error()})
		return []string{}
	}
	options, err := ParseOptions(raw)
	if err != nil {
		n.logger(ctx, "suggestions_unparsed", map[string]any{"query": query, "error": err.Error()})
		return []string{}
	}
	return CleanOptions(options)
}

// Models lists model names for a manufacturer, optionally scoped to a model year.
// Makes shorter than three characters return an empty list without a backend call.
func (n *Normalizer) Models(ctx context.Context, year int, manufacturer string) []string {
	manufacturer = strings.TrimSpace(manufacturer)
	if utf8.RuneCountInString(manufacturer) < minSuggestionLength {
		return []string{}
	}
	return n.Suggest(ctx, "models for "+vehiclePhrase(year, manufacturer))
}

// Trims lists trim levels for a make and model.
// Models shorter than three characters, or a missing make, return an empty list without a backend call.
func (n *Normalizer) Trims(ctx context.Context, year int, manufacturer, model string) []string {
	manufacturer = strings.TrimSpace(manufacturer)
	model = strings.TrimSpace(model)
	if manufacturer == "" || utf8.RuneCountInString(model) < minSuggestionLength {
		return []string{}
	}
	return n.Suggest(ctx, "trims for "+vehiclePhrase(year, manufacturer, model))
}

// CleanOptions trims list markers, drops explanatory or commerce entries, removes
// case-insensitive duplicates (first spelling wins) and caps the list at 50 entries.
func CleanOptions(options []string) []string {
	out := make([]string, 0, min(len(options), maxOptions))
	seen := make(map[string]struct{}, len(options))
	for _, option := range options {
		option = strings.TrimSpace(optionPrefix.ReplaceAllString(option, ""))
		option = strings.Trim(option, `"'`)
		if option == "" || strings.ContainsAny(option, "\n:") {
			continue
		}
		if utf8.RuneCountInString(option) > maxOptionLength || commercePattern.MatchString(option) {
			continue
		}
		key := foldKey(option)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, option)
		if len(out) == maxOptions {
			break
		}
	}
	return out
}

func vehiclePhrase(year int, parts ...string) string {
	words := make([]string, 0, len(parts)+1)
	if year > 0 {
		words = append(words, strconv.Itoa(year))
	}
	return strings.Join(append(words, parts...), " ")
}

// foldKey produces a comparison key: NFKC normalised, case folded, letters and digits only.
func foldKey(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, folded)
}
