package protocol

import (
	"errors"
	"testing"
)

func TestParseClientReady(t *testing.T) {
	raw := []byte(`{"type":"client_ready","session_id":"s1","sample_rate":44100,"channels":2}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage error = %v", err)
	}
	msg, ok := parsed.(ClientReady)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientReady", parsed)
	}
	if msg.SampleRate != 44100 || msg.Channels != 2 {
		t.Fatalf("parsed = %+v, want 44100/2", msg)
	}
}

func TestParseClientControl(t *testing.T) {
	for _, action := range []string{ActionStop, ActionInterrupt, ActionClose} {
		raw := []byte(`{"type":"client_control","session_id":"s1","action":"` + action + `"}`)
		parsed, err := ParseClientMessage(raw)
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", action, err)
		}
		msg := parsed.(ClientControl)
		if msg.Action != action {
			t.Fatalf("Action = %q, want %q", msg.Action, action)
		}
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"garbage", `not json`},
		{"unknown type", `{"type":"mystery"}`},
		{"ready missing session", `{"type":"client_ready","sample_rate":16000,"channels":1}`},
		{"ready bad rate", `{"type":"client_ready","session_id":"s1","sample_rate":0,"channels":1}`},
		{"control unknown action", `{"type":"client_control","session_id":"s1","action":"dance"}`},
		{"control missing session", `{"type":"client_control","action":"stop"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseClientMessage(%s) succeeded, want error", tc.raw)
			}
		})
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	in := AudioFrame{
		Seq:        42,
		SampleRate: 44100,
		Channels:   2,
		Samples:    []float32{0, 0.5, -0.5, 1, -1, 0.25},
	}
	raw, err := EncodeAudioFrame(in)
	if err != nil {
		t.Fatalf("EncodeAudioFrame error = %v", err)
	}
	out, err := DecodeAudioFrame(raw)
	if err != nil {
		t.Fatalf("DecodeAudioFrame error = %v", err)
	}
	if out.Seq != in.Seq || out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Fatalf("header = %+v, want %+v", out, in)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("samples len = %d, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample[%d] = %v, want %v", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestDecodeAudioFrameRejectsMalformed(t *testing.T) {
	if _, err := DecodeAudioFrame([]byte{1, 2, 3}); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("short frame error = %v, want ErrFrameTooShort", err)
	}

	good, _ := EncodeAudioFrame(AudioFrame{Seq: 1, SampleRate: 16000, Channels: 1, Samples: []float32{0.1}})

	bad := append([]byte(nil), good...)
	bad[0] = 9
	if _, err := DecodeAudioFrame(bad); !errors.Is(err, ErrFrameVersion) {
		t.Fatalf("version error = %v, want ErrFrameVersion", err)
	}

	bad = append([]byte(nil), good...)
	bad[1] = 0
	if _, err := DecodeAudioFrame(bad); !errors.Is(err, ErrFrameChannelled) {
		t.Fatalf("channels error = %v, want ErrFrameChannelled", err)
	}

	bad = append(append([]byte(nil), good...), 0xFF)
	if _, err := DecodeAudioFrame(bad); !errors.Is(err, ErrFramePayload) {
		t.Fatalf("payload error = %v, want ErrFramePayload", err)
	}
}
