package towing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func newTestNormalizer(t *testing.T, gen Generator) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(gen)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func TestCorrectMakeUsesStaticAliases(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"correctedMake": "Wrong"}`}}
	n := newTestNormalizer(t, stub)

	cases := map[string]string{
		"vw":        "Volkswagen",
		"VW":        "Volkswagen",
		"chevy":     "Chevrolet",
		"Mercedes":  "Mercedes-Benz",
		"  toyota ": "Toyota",
	}
	for input, want := range cases {
		if got := n.CorrectMake(context.Background(), input); got != want {
			t.Fatalf("CorrectMake(%q) = %q, want %q", input, got, want)
		}
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", stub.calls())
	}
}

func TestCorrectMakeSkipsShortInput(t *testing.T) {
	stub := &stubGenerator{}
	n := newTestNormalizer(t, stub)
	for _, input := range []string{"", "v", " x "} {
		if got := n.CorrectMake(context.Background(), input); got != input {
			t.Fatalf("expected %q unchanged, got %q", input, got)
		}
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", stub.calls())
	}
}

func TestCorrectMakeFallsBackToBackend(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"correctedMake": "Koenigsegg"}`}}
	n := newTestNormalizer(t, stub)
	if got := n.CorrectMake(context.Background(), "konigseg"); got != "Koenigsegg" {
		t.Fatalf("expected Koenigsegg, got %q", got)
	}
	req := stub.lastRequest(t)
	if req.Operation != OpMakeCorrection || !strings.Contains(req.Prompt, `"konigseg"`) {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestCorrectMakeCanonicalisesBackendAnswer(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"correctedMake": "chevy"}`}}
	n := newTestNormalizer(t, stub)
	if got := n.CorrectMake(context.Background(), "chvrolay"); got != "Chevrolet" {
		t.Fatalf("expected Chevrolet, got %q", got)
	}
}

func TestCorrectMakeReturnsInputOnFailure(t *testing.T) {
	var events []string
	stub := &stubGenerator{
		responses: []string{"", "no idea"},
		errs:      []error{errors.New("quota exceeded")},
	}
	n, err := NewNormalizer(stub, WithNormalizerLogger(func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}))
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	if got := n.CorrectMake(context.Background(), "zzmake"); got != "zzmake" {
		t.Fatalf("expected unchanged input on backend failure, got %q", got)
	}
	if got := n.CorrectMake(context.Background(), "zzmake"); got != "zzmake" {
		t.Fatalf("expected unchanged input on unparsable answer, got %q", got)
	}
	if !reflect.DeepEqual(events, []string{"make_correction_failed", "make_correction_unparsed"}) {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestModelsSkipsShortMakes(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"options": ["Model 3"]}`}}
	n := newTestNormalizer(t, stub)
	got := n.Models(context.Background(), 2021, "Fo")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", stub.calls())
	}
}

func TestModelsQueriesBackend(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"options": ["Outback", "Forester", "Crosstrek"]}`}}
	n := newTestNormalizer(t, stub)
	got := n.Models(context.Background(), 2021, "Subaru")
	if !reflect.DeepEqual(got, []string{"Outback", "Forester", "Crosstrek"}) {
		t.Fatalf("unexpected models %#v", got)
	}
	if req := stub.lastRequest(t); !strings.Contains(req.Prompt, `"models for 2021 Subaru"`) {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
}

func TestTrimsRequiresMakeAndModel(t *testing.T) {
	stub := &stubGenerator{responses: []string{`{"options": ["Base", "Premium", "Limited"]}`}}
	n := newTestNormalizer(t, stub)
	if got := n.Trims(context.Background(), 0, "", "Outback"); len(got) != 0 {
		t.Fatalf("expected empty list without make, got %#v", got)
	}
	if got := n.Trims(context.Background(), 0, "Kia", "K5"); len(got) != 0 {
		t.Fatalf("expected empty list for short model, got %#v", got)
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no backend calls, got %d", stub.calls())
	}
	got := n.Trims(context.Background(), 0, "Subaru", "Outback")
	if len(got) != 3 {
		t.Fatalf("expected three trims, got %#v", got)
	}
	if req := stub.lastRequest(t); !strings.Contains(req.Prompt, `"trims for Subaru Outback"`) {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
}

func TestSuggestReturnsEmptyOnFailure(t *testing.T) {
	cases := map[string]*stubGenerator{
		"backend error":   {errs: []error{errors.New("unavailable")}},
		"not json":        {responses: []string{"Outback, Forester"}},
		"wrong structure": {responses: []string{`{"options": "Outback"}`}},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			n := newTestNormalizer(t, stub)
			got := n.Suggest(context.Background(), "models for Subaru")
			if got == nil || len(got) != 0 {
				t.Fatalf("expected empty non-nil list, got %#v", got)
			}
		})
	}
}

func TestCleanOptions(t *testing.T) {
	input := []string{
		"1. Outback",
		"- Forester",
		"outback",
		"  Crosstrek  ",
		"\"Ascent\"",
		"Used Outback for sale",
		"WRX $29,995",
		"Legacy: a midsize sedan",
		"",
		"2.5i Premium",
		strings.Repeat("x", maxOptionLength+1),
		"BRZ\nsports coupe",
	}
	want := []string{"Outback", "Forester", "Crosstrek", "Ascent", "2.5i Premium"}
	if got := CleanOptions(input); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected options:\nwant %#v\ngot  %#v", want, got)
	}
}

func TestCleanOptionsCapsList(t *testing.T) {
	input := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		input = append(input, fmt.Sprintf("Model %d", i))
	}
	got := CleanOptions(input)
	if len(got) != maxOptions {
		t.Fatalf("expected %d options, got %d", maxOptions, len(got))
	}
	if got[0] != "Model 0" || got[maxOptions-1] != fmt.Sprintf("Model %d", maxOptions-1) {
		t.Fatalf("expected first entries to be kept, got %q..%q", got[0], got[maxOptions-1])
	}
}

func TestStaticMakeUnknown(t *testing.T) {
	if _, ok := StaticMake("Zastava"); ok {
		t.Fatalf("expected unknown make")
	}
}
