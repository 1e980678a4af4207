package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type slowNormalizer struct {
	calls   atomic.Int32
	release chan struct{}
	models  []string
	make    string
}

func (n *slowNormalizer) CorrectMake(context.Context, string) string {
	n.calls.Add(1)
	return n.make
}

func (n *slowNormalizer) Models(ctx context.Context, _ int, _ string) []string {
	n.calls.Add(1)
	if n.release != nil {
		<-n.release
	}
	if ctx.Err() != nil {
		return nil
	}
	return n.models
}

func (n *slowNormalizer) Trims(context.Context, int, string, string) []string {
	n.calls.Add(1)
	return nil
}

func TestVehicleServiceCoalescesConcurrentRequests(t *testing.T) {
	norm := &slowNormalizer{release: make(chan struct{}), models: []string{"Civic", "Accord"}}
	svc, err := NewVehicleService(VehicleServiceDeps{Normalizer: norm})
	if err != nil {
		t.Fatalf("NewVehicleService: %v", err)
	}

	const callers = 5
	results := make([][]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Models(context.Background(), 2020, " honda ")
		}(i)
	}
	for norm.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(norm.release)
	wg.Wait()

	if got := norm.calls.Load(); got != 1 {
		t.Fatalf("expected one backend call, got %d", got)
	}
	for i, r := range results {
		if len(r) != 2 || r[0] != "Civic" {
			t.Fatalf("caller %d got %v", i, r)
		}
	}
	results[0][0] = "mutated"
	if results[1][0] != "Civic" {
		t.Fatalf("callers must receive independent slices")
	}
}

func TestVehicleServiceSharedCallSurvivesFirstCallerCancel(t *testing.T) {
	norm := &slowNormalizer{release: make(chan struct{}), models: []string{"Outback", "Forester"}}
	svc, err := NewVehicleService(VehicleServiceDeps{Normalizer: norm})
	if err != nil {
		t.Fatalf("NewVehicleService: %v", err)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan []string, 1)
	go func() { first <- svc.Models(firstCtx, 2021, "Subaru") }()
	for norm.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan []string, 1)
	go func() { second <- svc.Models(context.Background(), 2021, "subaru") }()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case got := <-first:
		if len(got) != 0 {
			t.Fatalf("cancelled caller should get an empty list, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(norm.release)
	select {
	case got := <-second:
		if len(got) != 2 || got[0] != "Outback" || got[1] != "Forester" {
			t.Fatalf("second caller got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("second caller did not return")
	}
	if got := norm.calls.Load(); got != 1 {
		t.Fatalf("expected one backend call, got %d", got)
	}
}

func TestVehicleServiceEmptyResults(t *testing.T) {
	svc, err := NewVehicleService(VehicleServiceDeps{Normalizer: &slowNormalizer{}})
	if err != nil {
		t.Fatalf("NewVehicleService: %v", err)
	}
	trims := svc.Trims(context.Background(), 2020, "Honda", "Civic")
	if trims == nil || len(trims) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", trims)
	}
}

func TestVehicleServiceCorrectMakeFallsBackToInput(t *testing.T) {
	svc, err := NewVehicleService(VehicleServiceDeps{Normalizer: &slowNormalizer{make: "  "}})
	if err != nil {
		t.Fatalf("NewVehicleService: %v", err)
	}
	if got := svc.CorrectMake(context.Background(), "Hundai"); got != "Hundai" {
		t.Fatalf("expected input back, got %q", got)
	}

	svc, _ = NewVehicleService(VehicleServiceDeps{Normalizer: &slowNormalizer{make: "Hyundai"}})
	if got := svc.CorrectMake(context.Background(), "Hundai"); got != "Hyundai" {
		t.Fatalf("expected corrected make, got %q", got)
	}
}

func TestCoalesceKeyNormalisesWhitespaceAndCase(t *testing.T) {
	if coalesceKey("models", 2020, "  Land   Rover") != coalesceKey("models", 2020, "land rover") {
		t.Fatalf("expected equivalent keys")
	}
	if coalesceKey("models", 2020, "Ford") == coalesceKey("trims", 2020, "Ford") {
		t.Fatalf("kinds must not collide")
	}
}
