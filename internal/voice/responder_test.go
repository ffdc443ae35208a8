package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hklearn/lanvoice/internal/tutor"
)

func TestResponderPassesThroughReply(t *testing.T) {
	r := NewResponder(tutor.NewStaticAdapter("well done"), time.Second, "fallback")

	var deltas []string
	text, degraded, err := r.GenerateReply(context.Background(), tutor.ReplyRequest{Transcript: "hi"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}
	if degraded {
		t.Fatalf("degraded = true for healthy generator")
	}
	if text != "well done" || len(deltas) != 1 {
		t.Fatalf("text = %q, deltas = %v", text, deltas)
	}
}

func TestResponderSubstitutesFallbackOnTimeout(t *testing.T) {
	r := NewResponder(hungAdapter{}, 30*time.Millisecond, "fallback")

	text, degraded, err := r.GenerateReply(context.Background(), tutor.ReplyRequest{Transcript: "hi"}, nil)
	if err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}
	if !degraded || text != "fallback" {
		t.Fatalf("text = %q, degraded = %v", text, degraded)
	}
}

func TestResponderSubstitutesFallbackOnGeneratorError(t *testing.T) {
	r := NewResponder(erroringAdapter{}, time.Second, "fallback")

	text, degraded, err := r.GenerateReply(context.Background(), tutor.ReplyRequest{Transcript: "hi"}, nil)
	if err != nil {
		t.Fatalf("GenerateReply() error = %v", err)
	}
	if !degraded || text != "fallback" {
		t.Fatalf("text = %q, degraded = %v", text, degraded)
	}
}

type erroringAdapter struct{}

func (erroringAdapter) StreamReply(context.Context, tutor.ReplyRequest, tutor.DeltaHandler) (tutor.Reply, error) {
	return tutor.Reply{}, errors.New("upstream 500")
}

func TestResponderPropagatesParentCancellation(t *testing.T) {
	r := NewResponder(hungAdapter{}, time.Minute, "fallback")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := r.GenerateReply(ctx, tutor.ReplyRequest{Transcript: "hi"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
