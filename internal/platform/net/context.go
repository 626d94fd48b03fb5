// Package net provides utilities for working with request contexts
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey is an unexported key type for context values
type ctxKey string

const keyLineID ctxKey = "line_id"

// WithRequest annotates context with the request id
func WithRequest(ctx context.Context, reqID string) context.Context {
	if reqID != "" {
		// set chi RequestID so chimw.GetReqID can retrieve it
		ctx = context.WithValue(ctx, chimw.RequestIDKey, reqID)
	}
	return ctx
}

// WithLine annotates context with the line id an admin call targets
func WithLine(ctx context.Context, lineID int64) context.Context {
	if lineID != 0 {
		ctx = context.WithValue(ctx, keyLineID, lineID)
	}
	return ctx
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string {
	if v := chimw.GetReqID(ctx); v != "" {
		return v
	}
	return ""
}

// LineID returns the line id on the context if present
func LineID(ctx context.Context) int64 {
	if v, ok := ctx.Value(keyLineID).(int64); ok {
		return v
	}
	return 0
}
