package brain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// FallbackAdapter prefers the primary backend and switches to fallback when
// primary fails before producing any delta. Once fallback succeeds it stays
// active until it fails, then primary is retried.
type FallbackAdapter struct {
	primary        Adapter
	fallback       Adapter
	fallbackActive atomic.Bool
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

// Primary exposes the preferred backend for callers that want to bypass the
// failover logic (e.g. speculative work that may be thrown away).
func (a *FallbackAdapter) Primary() Adapter { return a.primary }

func (a *FallbackAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	first, second := a.primary, a.fallback
	if a.fallbackActive.Load() {
		first, second = a.fallback, a.primary
	}

	var delivered atomic.Bool
	wrapped := func(delta string) error {
		delivered.Store(true)
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	}

	resp, firstErr := first.StreamResponse(ctx, req, wrapped)
	if firstErr == nil {
		a.fallbackActive.Store(first == a.fallback)
		return resp, nil
	}
	if errors.Is(firstErr, context.Canceled) || errors.Is(firstErr, context.DeadlineExceeded) {
		return MessageResponse{}, firstErr
	}
	if delivered.Load() {
		// Partial output already reached the caller; switching backends
		// mid-reply would duplicate text.
		return MessageResponse{}, firstErr
	}

	resp, secondErr := second.StreamResponse(ctx, req, wrapped)
	if secondErr != nil {
		return MessageResponse{}, fmt.Errorf("brain primary failed: %v; fallback failed: %w", firstErr, secondErr)
	}
	a.fallbackActive.Store(second == a.fallback)
	return resp, nil
}
