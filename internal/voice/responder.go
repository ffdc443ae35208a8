package voice

import (
	"context"
	"time"

	"github.com/hklearn/lanvoice/internal/reliability"
	"github.com/hklearn/lanvoice/internal/tutor"
)

// Responder produces the tutor's reply text for a committed transcript.
// A generator that errors or stalls past the deadline yields the fixed
// fallback text instead of failing the turn.
type Responder struct {
	adapter      tutor.Adapter
	timeout      time.Duration
	fallbackText string
}

func NewResponder(adapter tutor.Adapter, timeout time.Duration, fallbackText string) *Responder {
	return &Responder{adapter: adapter, timeout: timeout, fallbackText: fallbackText}
}

// GenerateReply streams deltas through onDelta and returns the full reply.
// degraded is true when the fallback text was substituted. Cancellation of
// the parent context is always propagated as an error, never masked.
func (r *Responder) GenerateReply(ctx context.Context, req tutor.ReplyRequest, onDelta tutor.DeltaHandler) (text string, degraded bool, err error) {
	genCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, genErr := r.adapter.StreamReply(genCtx, req, onDelta)
	if genErr == nil {
		return reply.Text, false, nil
	}
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	if reliability.IsCancellation(genErr) && genCtx.Err() == nil {
		// Delta handler aborted the stream (listener gone).
		return "", false, genErr
	}
	return r.fallbackText, true, nil
}
