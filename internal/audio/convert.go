package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrFormat marks input the converter cannot normalize. Frames failing with
// ErrFormat are rejected individually; the session is unaffected.
var ErrFormat = errors.New("unsupported audio format")

const (
	minSourceRate = 4000
	maxSourceRate = 192000
	maxChannels   = 8
)

// Frame is one normalized PCM16 mono frame at the recognizer's rate.
// Frames are transient and consumed exactly once by the feed loop.
type Frame struct {
	Seq        uint32
	PCM        []int16
	ReceivedAt time.Time
}

// Converter normalizes raw captured samples into fixed-format PCM frames.
// It is a pure transform with no shared state and is safe to run inline
// on the intake path.
type Converter struct {
	targetRate int
}

func NewConverter(targetRate int) *Converter {
	return &Converter{targetRate: targetRate}
}

func (c *Converter) TargetRate() int { return c.targetRate }

// Convert downmixes interleaved multi-channel float samples to mono,
// resamples to the target rate, and quantizes to PCM16 with clamping.
func (c *Converter) Convert(samples []float32, srcRate, channels int) ([]int16, error) {
	if srcRate < minSourceRate || srcRate > maxSourceRate {
		return nil, fmt.Errorf("%w: sample rate %d", ErrFormat, srcRate)
	}
	if channels < 1 || channels > maxChannels {
		return nil, fmt.Errorf("%w: %d channels", ErrFormat, channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrFormat, len(samples), channels)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFormat)
	}

	mono := samples
	if channels > 1 {
		frames := len(samples) / channels
		mono = make([]float32, frames)
		for i := 0; i < frames; i++ {
			var sum float32
			for ch := 0; ch < channels; ch++ {
				sum += samples[i*channels+ch]
			}
			mono[i] = sum / float32(channels)
		}
	}

	if srcRate != c.targetRate {
		mono = resampleLinear(mono, srcRate, c.targetRate)
		if len(mono) == 0 {
			return nil, fmt.Errorf("%w: resampling %d -> %d produced no output", ErrFormat, srcRate, c.targetRate)
		}
	}

	out := make([]int16, len(mono))
	for i, s := range mono {
		out[i] = quantize(s)
	}
	return out, nil
}

// resampleLinear interpolates between neighboring samples. Good enough for
// speech fed to a recognizer; not intended for playback fidelity.
func resampleLinear(in []float32, srcRate, dstRate int) []float32 {
	outLen := len(in) * dstRate / srcRate
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}

func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int32(s * 32767)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// PCM16Bytes serializes samples as little-endian PCM16, the layout the
// speech engines and the WAV wrapper expect.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
