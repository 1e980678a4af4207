package services

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultSuggestionTimeout = 20 * time.Second

// VehicleServiceDeps bundles collaborators required to construct a vehicle service.
type VehicleServiceDeps struct {
	Normalizer VehicleNormalizer
	// Timeout bounds a shared backend call. Defaults to 20s.
	Timeout time.Duration
}

// vehicleService coalesces identical in-flight requests so concurrent callers typing the same
// make share one backend call. Results are not cached. The shared call is detached from the
// caller that started it; each waiter stops waiting when its own context ends.
type vehicleService struct {
	normalizer VehicleNormalizer
	group      singleflight.Group
	timeout    time.Duration
}

var _ VehicleService = (*vehicleService)(nil)

// NewVehicleService constructs the suggestion service.
func NewVehicleService(deps VehicleServiceDeps) (VehicleService, error) {
	if deps.Normalizer == nil {
		return nil, errors.New("vehicle service: normalizer is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultSuggestionTimeout
	}
	return &vehicleService{normalizer: deps.Normalizer, timeout: timeout}, nil
}

func (s *vehicleService) CorrectMake(ctx context.Context, input string) string {
	v := s.shared(ctx, "make|"+strings.ToLower(strings.TrimSpace(input)), func(callCtx context.Context) any {
		return s.normalizer.CorrectMake(callCtx, input)
	})
	corrected, _ := v.(string)
	if strings.TrimSpace(corrected) == "" {
		return input
	}
	return corrected
}

func (s *vehicleService) Models(ctx context.Context, year int, manufacturer string) []string {
	key := coalesceKey("models", year, manufacturer)
	return s.list(ctx, key, func(callCtx context.Context) []string {
		return s.normalizer.Models(callCtx, year, manufacturer)
	})
}

func (s *vehicleService) Trims(ctx context.Context, year int, manufacturer, model string) []string {
	key := coalesceKey("trims", year, manufacturer, model)
	return s.list(ctx, key, func(callCtx context.Context) []string {
		return s.normalizer.Trims(callCtx, year, manufacturer, model)
	})
}

// list runs fn once per key and hands every waiter its own copy.
func (s *vehicleService) list(ctx context.Context, key string, fn func(context.Context) []string) []string {
	v := s.shared(ctx, key, func(callCtx context.Context) any { return fn(callCtx) })
	options, _ := v.([]string)
	if options == nil {
		return []string{}
	}
	return slices.Clone(options)
}

// shared runs fn at most once per key across concurrent callers. It returns nil when ctx ends
// before the shared call finishes.
func (s *vehicleService) shared(ctx context.Context, key string, fn func(context.Context) any) any {
	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return fn(callCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val
	case <-ctx.Done():
		return nil
	}
}

func coalesceKey(kind string, year int, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(year))
	for _, part := range parts {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(strings.Join(strings.Fields(part), " ")))
	}
	return b.String()
}
