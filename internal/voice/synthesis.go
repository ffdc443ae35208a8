package voice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSynthesisStalled marks a synthesis stream that stopped producing
// chunks before signalling completion.
var ErrSynthesisStalled = errors.New("synthesis stalled")

// SynthChunk is one ordered piece of rendered reply audio.
type SynthChunk struct {
	Seq         int
	Format      string
	AudioBase64 string
	Final       bool
}

// Synthesizer renders reply text to ordered audio chunks over a vendor
// stream. One Speak call owns one stream; the stream is always released
// on return, including cancellation.
type Synthesizer struct {
	provider     TTSProvider
	modelID      string
	chunkTimeout time.Duration
}

func NewSynthesizer(provider TTSProvider, modelID string, chunkTimeout time.Duration) *Synthesizer {
	if chunkTimeout <= 0 {
		chunkTimeout = 10 * time.Second
	}
	return &Synthesizer{provider: provider, modelID: modelID, chunkTimeout: chunkTimeout}
}

// Speak sends sanitized text to the vendor and forwards each audio event
// through emit in arrival order. It returns once the vendor signals the
// final chunk, the context is cancelled, or the stream stalls.
func (sy *Synthesizer) Speak(ctx context.Context, voiceID, text string, emit func(SynthChunk) error) error {
	clean := sanitizeSpeechText(text)
	if clean == "" {
		return nil
	}

	stream, err := sy.provider.StartStream(ctx, voiceID, sy.modelID)
	if err != nil {
		return fmt.Errorf("start synthesis stream: %w", err)
	}
	defer stream.Close()

	if err := stream.SendText(ctx, clean, true); err != nil {
		return fmt.Errorf("send synthesis text: %w", err)
	}
	if err := stream.CloseInput(ctx); err != nil {
		return fmt.Errorf("close synthesis input: %w", err)
	}

	seq := 0
	timer := time.NewTimer(sy.chunkTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrSynthesisStalled
		case evt, ok := <-stream.Events():
			if !ok {
				// Vendor closed without a final marker; what arrived is complete enough.
				return emit(SynthChunk{Seq: seq, Final: true})
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(sy.chunkTimeout)

			switch evt.Type {
			case TTSEventAudio:
				seq++
				if err := emit(SynthChunk{Seq: seq, Format: evt.Format, AudioBase64: evt.AudioBase64}); err != nil {
					return err
				}
			case TTSEventFinal:
				return emit(SynthChunk{Seq: seq, Final: true})
			case TTSEventError:
				return fmt.Errorf("synthesis error %s: %s", evt.Code, evt.Detail)
			}
		}
	}
}
