package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	tests := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range tests {
		err := WrapError("users.get", status.Error(tc.code, "boom"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, fsErr)
		}
		if fsErr.Op != "users.get" {
			t.Fatalf("unexpected op %q", fsErr.Op)
		}
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	if err := WrapError("op", fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "cancel")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestWrapErrorDoesNotDoubleWrap(t *testing.T) {
	first := WrapError("users.get", status.Error(codes.NotFound, "missing"))
	second := WrapError("profiles.load", fmt.Errorf("load: %w", first))
	if !IsNotFound(second) {
		t.Fatalf("expected not found after rewrap")
	}
	var fsErr *Error
	errors.As(second, &fsErr)
	if fsErr.Op != "users.get" {
		t.Fatalf("expected original op to survive, got %q", fsErr.Op)
	}
}

func TestProviderRequiresProjectAndRejectsUseAfterClose(t *testing.T) {
	p := &Provider{dialTimeout: defaultDialTimeout}
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected project id error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
