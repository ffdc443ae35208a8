package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket control payload variants.
type MessageType string

const (
	TypeClientReady    MessageType = "client_ready"
	TypeClientControl  MessageType = "client_control"
	TypeSessionReady   MessageType = "session_ready"
	TypeSTTPartial     MessageType = "stt_partial"
	TypeSTTFinal       MessageType = "stt_final"
	TypeReplyTextChunk MessageType = "reply_text_chunk"
	TypeTutorAudio     MessageType = "tutor_audio_chunk"
	TypeBargeInNotice  MessageType = "barge_in_notice"
	TypeErrorEvent     MessageType = "error_event"
	TypeSessionClosed  MessageType = "session_closed"
)

// Control actions accepted from the client.
const (
	ActionStop      = "stop"
	ActionInterrupt = "interrupt"
	ActionClose     = "close"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientReady declares the source audio format and arms the session.
type ClientReady struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	SampleRate int         `json:"sample_rate"`
	Channels   int         `json:"channels"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type SessionReady struct {
	Type       MessageType `json:"type"`
	Seq        uint64      `json:"seq"`
	SessionID  string      `json:"session_id"`
	SampleRate int         `json:"sample_rate"`
}

type STTPartial struct {
	Type       MessageType `json:"type"`
	Seq        uint64      `json:"seq"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type STTFinal struct {
	Type       MessageType `json:"type"`
	Seq        uint64      `json:"seq"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type ReplyTextChunk struct {
	Type      MessageType `json:"type"`
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	ChunkSeq  int         `json:"chunk_seq"`
	Text      string      `json:"text"`
	Final     bool        `json:"final"`
	Degraded  bool        `json:"degraded,omitempty"`
}

type TutorAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         uint64      `json:"seq"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	ChunkSeq    int         `json:"chunk_seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	Final       bool        `json:"final"`
}

type BargeInNotice struct {
	Type      MessageType `json:"type"`
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type SessionClosed struct {
	Type      MessageType `json:"type"`
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
}

// ParseClientMessage decodes an inbound text frame into a typed control message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientReady:
		var msg ClientReady
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.SampleRate <= 0 || msg.Channels <= 0 {
			return nil, errors.New("invalid client_ready")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStop, ActionInterrupt, ActionClose:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
