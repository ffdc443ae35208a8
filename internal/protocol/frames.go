package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary audio frames carry raw float32 samples with a fixed header so
// the server can validate ordering and format without a JSON round trip.
//
// Layout (header big-endian, samples little-endian float32):
//
//	byte 0      version
//	byte 1      channel count
//	bytes 2-5   source sample rate
//	bytes 6-9   frame sequence number
//	bytes 10-11 reserved
//	bytes 12+   interleaved float32 samples
const (
	FrameVersion    = 1
	frameHeaderSize = 12
)

var (
	ErrFrameTooShort   = errors.New("audio frame too short")
	ErrFrameVersion    = errors.New("unsupported audio frame version")
	ErrFramePayload    = errors.New("audio frame payload not float32 aligned")
	ErrFrameChannelled = errors.New("audio frame channel count out of range")
)

// AudioFrame is one decoded inbound frame before format conversion.
type AudioFrame struct {
	Seq        uint32
	SampleRate int
	Channels   int
	Samples    []float32
}

// DecodeAudioFrame parses a binary websocket message into an AudioFrame.
func DecodeAudioFrame(raw []byte) (AudioFrame, error) {
	if len(raw) < frameHeaderSize {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}
	if raw[0] != FrameVersion {
		return AudioFrame{}, fmt.Errorf("%w: %d", ErrFrameVersion, raw[0])
	}
	channels := int(raw[1])
	if channels < 1 || channels > 8 {
		return AudioFrame{}, fmt.Errorf("%w: %d", ErrFrameChannelled, channels)
	}
	payload := raw[frameHeaderSize:]
	if len(payload)%4 != 0 {
		return AudioFrame{}, fmt.Errorf("%w: %d payload bytes", ErrFramePayload, len(payload))
	}

	frame := AudioFrame{
		Seq:        binary.BigEndian.Uint32(raw[6:10]),
		SampleRate: int(binary.BigEndian.Uint32(raw[2:6])),
		Channels:   channels,
		Samples:    make([]float32, len(payload)/4),
	}
	for i := range frame.Samples {
		bits := binary.LittleEndian.Uint32(payload[i*4:])
		frame.Samples[i] = math.Float32frombits(bits)
	}
	return frame, nil
}

// EncodeAudioFrame builds the wire form of a frame. Used by clients and tests.
func EncodeAudioFrame(frame AudioFrame) ([]byte, error) {
	if frame.Channels < 1 || frame.Channels > 8 {
		return nil, fmt.Errorf("%w: %d", ErrFrameChannelled, frame.Channels)
	}
	out := make([]byte, frameHeaderSize+len(frame.Samples)*4)
	out[0] = FrameVersion
	out[1] = byte(frame.Channels)
	binary.BigEndian.PutUint32(out[2:6], uint32(frame.SampleRate))
	binary.BigEndian.PutUint32(out[6:10], frame.Seq)
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint32(out[frameHeaderSize+i*4:], math.Float32bits(s))
	}
	return out, nil
}
