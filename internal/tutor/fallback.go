package tutor

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Cancellation is never masked by the fallback.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) StreamReply(ctx context.Context, req ReplyRequest, onDelta DeltaHandler) (Reply, error) {
	resp, err := a.primary.StreamReply(ctx, req, onDelta)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Reply{}, err
	}
	if a.fallback == nil {
		return Reply{}, err
	}
	fallbackResp, fallbackErr := a.fallback.StreamReply(ctx, req, onDelta)
	if fallbackErr != nil {
		return Reply{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}

// StaticAdapter always returns a fixed reply. Used as the last resort in
// degraded mode so a session keeps answering in text form.
type StaticAdapter struct {
	text string
}

func NewStaticAdapter(text string) *StaticAdapter {
	return &StaticAdapter{text: text}
}

func (a *StaticAdapter) StreamReply(ctx context.Context, _ ReplyRequest, onDelta DeltaHandler) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}
	if onDelta != nil && a.text != "" {
		if err := onDelta(a.text); err != nil {
			return Reply{}, err
		}
	}
	return Reply{Text: a.text}, nil
}
