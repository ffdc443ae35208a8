package session

import "errors"

// State is the lifecycle position of one tutoring session.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateRecognizing State = "recognizing"
	StateResponding  State = "responding"
	StateSpeaking    State = "speaking"
	StateError       State = "error"
	StateClosed      State = "closed"
)

var ErrInvalidTransition = errors.New("invalid session state transition")

// transitions lists the legal forward edges. Error and Closed are reachable
// from everywhere (except that Closed is final); they are handled in
// CanTransition rather than enumerated per state.
var transitions = map[State][]State{
	StateIdle:        {StateListening},
	StateListening:   {StateRecognizing},
	StateRecognizing: {StateResponding, StateListening},
	StateResponding:  {StateSpeaking, StateListening},
	StateSpeaking:    {StateListening},
	StateError:       {},
	StateClosed:      {},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	if from == StateError {
		return false
	}
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a session in this state accepts no more frames.
func IsTerminal(s State) bool {
	return s == StateError || s == StateClosed
}

// AcceptsAudio reports whether inbound frames are meaningful in this state.
// Frames during Responding/Speaking are accepted too: they signal barge-in.
func AcceptsAudio(s State) bool {
	switch s {
	case StateListening, StateRecognizing, StateResponding, StateSpeaking:
		return true
	default:
		return false
	}
}
