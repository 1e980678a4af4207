package towing

import (
	"context"
	"fmt"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

// Advisor performs towing lookups: compose, generate, parse.
type Advisor struct {
	gen Generator
}

// NewAdvisor constructs an Advisor backed by gen.
func NewAdvisor(gen Generator) (*Advisor, error) {
	if gen == nil {
		return nil, fmt.Errorf("towing: advisor requires a generator")
	}
	return &Advisor{gen: gen}, nil
}

// Lookup returns the towing recommendation for a free-text vehicle query such as
// "2021 Ford F-150 Lariat" or "VIN 1FTFW1E50MFA00001".
func (a *Advisor) Lookup(ctx context.Context, query string) (domain.TowingInfo, error) {
	req, err := ComposeTowingPrompt(query)
	if err != nil {
		return domain.TowingInfo{}, err
	}
	raw, err := generate(ctx, a.gen, req)
	if err != nil {
		return domain.TowingInfo{}, err
	}
	return ParseTowingInfo(raw)
}
