package tutor

import (
	"context"
	"errors"
	"testing"
)

type failingAdapter struct{ err error }

func (a *failingAdapter) StreamReply(context.Context, ReplyRequest, DeltaHandler) (Reply, error) {
	return Reply{}, a.err
}

func TestFallbackAdapterUsesFallbackOnError(t *testing.T) {
	primary := &failingAdapter{err: errors.New("upstream down")}
	a := NewFallbackAdapter(primary, NewStaticAdapter("plan B"))

	reply, err := a.StreamReply(context.Background(), ReplyRequest{Transcript: "hi"}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text != "plan B" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "plan B")
	}
}

func TestFallbackAdapterNeverMasksCancellation(t *testing.T) {
	primary := &failingAdapter{err: context.Canceled}
	a := NewFallbackAdapter(primary, NewStaticAdapter("plan B"))

	_, err := a.StreamReply(context.Background(), ReplyRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestStaticAdapterEmitsSingleDelta(t *testing.T) {
	a := NewStaticAdapter("try again later")
	var deltas []string
	reply, err := a.StreamReply(context.Background(), ReplyRequest{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text != "try again later" || len(deltas) != 1 {
		t.Fatalf("reply = %+v, deltas = %v", reply, deltas)
	}
}

func TestMockAdapterEchoesTranscript(t *testing.T) {
	a := NewMockAdapter()
	reply, err := a.StreamReply(context.Background(), ReplyRequest{Transcript: "I goed to school"}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text == "" {
		t.Fatalf("empty mock reply")
	}
}
