package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hklearn/lanvoice/internal/reliability"
)

// ErrEngineUnavailable marks recognition start failure after the retry
// budget is spent. The session survives it in degraded mode.
var ErrEngineUnavailable = errors.New("speech engine unavailable")

// ErrAuthRejected marks a credential or configuration failure the engine
// reported outright. Retrying cannot help; the session tears down.
var ErrAuthRejected = errors.New("speech engine rejected credentials")

// Recognizer starts recognition sessions with a bounded retry policy.
// A start attempt that exceeds its timeout counts as a failed attempt.
type Recognizer struct {
	provider     STTProvider
	startTimeout time.Duration
	retryLimit   int
	retryBase    time.Duration
	retryCap     time.Duration
}

func NewRecognizer(provider STTProvider, startTimeout time.Duration, retryLimit int, retryBase, retryCap time.Duration) *Recognizer {
	if retryLimit <= 0 {
		retryLimit = 1
	}
	return &Recognizer{
		provider:     provider,
		startTimeout: startTimeout,
		retryLimit:   retryLimit,
		retryBase:    retryBase,
		retryCap:     retryCap,
	}
}

func (r *Recognizer) Start(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	var lastErr error
	for attempt := 0; attempt < r.retryLimit; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, r.retryBase, r.retryCap)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.startTimeout)
		sess, events, err := r.provider.StartSession(attemptCtx, sessionID)
		cancel()
		if err == nil {
			return sess, events, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrEngineUnavailable, r.retryLimit, lastErr)
}
