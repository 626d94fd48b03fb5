package store

import (
	"context"
	"testing"
)

// TestTickID_SetAndGet sets a tick id and retrieves it
func TestTickID_SetAndGet(t *testing.T) {
	t.Parallel()

	base := context.Background()
	ctx := WithTickID(base, "tick-9f2")

	id, ok := TickID(ctx)
	if !ok {
		t.Fatalf("TickID not found")
	}
	if id != "tick-9f2" {
		t.Fatalf("TickID mismatch got=%q want=%q", id, "tick-9f2")
	}
}

// TestTickID_EmptyString reports false when empty string is stored
func TestTickID_EmptyString(t *testing.T) {
	t.Parallel()

	ctx := WithTickID(context.Background(), "")

	id, ok := TickID(ctx)
	if ok {
		t.Fatalf("TickID ok should be false for empty value")
	}
	if id != "" {
		t.Fatalf("TickID should be empty got=%q", id)
	}
}

// TestTickID_NoLeak ensures adding value returns a new ctx and base has no value
func TestTickID_NoLeak(t *testing.T) {
	t.Parallel()

	base := context.Background()
	_ = WithTickID(base, "tick-9f2")

	id, ok := TickID(base)
	if ok || id != "" {
		t.Fatalf("base context should not have tick value")
	}
}

// TestRequestID_SetAndGet sets a request id and retrieves it
func TestRequestID_SetAndGet(t *testing.T) {
	t.Parallel()

	base := context.Background()
	ctx := WithRequestID(base, "req-123")

	id, ok := RequestID(ctx)
	if !ok {
		t.Fatalf("RequestID not found")
	}
	if id != "req-123" {
		t.Fatalf("RequestID mismatch got=%q want=%q", id, "req-123")
	}
}

// TestRequestID_NotPresent returns false on base context
func TestRequestID_NotPresent(t *testing.T) {
	t.Parallel()

	id, ok := RequestID(context.Background())
	if ok || id != "" {
		t.Fatalf("RequestID should be absent on base context")
	}
}

// TestKeys_Isolation ensures tick and request keys do not collide
func TestKeys_Isolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = WithTickID(ctx, "tick-9f2")
	ctx = WithRequestID(ctx, "req-123")

	tick, tok := TickID(ctx)
	req, rok := RequestID(ctx)

	if !tok || tick != "tick-9f2" {
		t.Fatalf("TickID mismatch tok=%v tick=%q", tok, tick)
	}
	if !rok || req != "req-123" {
		t.Fatalf("RequestID mismatch rok=%v req=%q", rok, req)
	}
}
