package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type flakySTTProvider struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (p *flakySTTProvider) StartSession(context.Context, string) (STTSession, <-chan STTEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failures {
		return nil, nil, errors.New("transient dial failure")
	}
	events := make(chan STTEvent)
	return &mockSTTSession{events: events}, events, nil
}

func TestRecognizerRetriesThenSucceeds(t *testing.T) {
	p := &flakySTTProvider{failures: 2}
	r := NewRecognizer(p, time.Second, 3, time.Millisecond, 5*time.Millisecond)

	sess, events, err := r.Start(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Close()
	if events == nil {
		t.Fatalf("nil events channel")
	}
	if p.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", p.attempts)
	}
}

func TestRecognizerExhaustionReturnsSentinel(t *testing.T) {
	p := &flakySTTProvider{failures: 100}
	r := NewRecognizer(p, time.Second, 3, time.Millisecond, 5*time.Millisecond)

	_, _, err := r.Start(context.Background(), "s1")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("error = %v, want ErrEngineUnavailable", err)
	}
	if p.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", p.attempts)
	}
}

type authRejectingSTTProvider struct {
	mu       sync.Mutex
	attempts int
}

func (p *authRejectingSTTProvider) StartSession(context.Context, string) (STTSession, <-chan STTEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return nil, nil, fmt.Errorf("%w: handshake status 401", ErrAuthRejected)
}

func TestRecognizerDoesNotRetryAuthRejection(t *testing.T) {
	p := &authRejectingSTTProvider{}
	r := NewRecognizer(p, time.Second, 5, time.Millisecond, 5*time.Millisecond)

	_, _, err := r.Start(context.Background(), "s1")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("error = %v, want ErrAuthRejected", err)
	}
	if p.attempts != 1 {
		t.Fatalf("attempts = %d, want 1", p.attempts)
	}
}

func TestRecognizerStopsOnCancellation(t *testing.T) {
	p := &flakySTTProvider{failures: 100}
	r := NewRecognizer(p, time.Second, 10, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := r.Start(ctx, "s1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
