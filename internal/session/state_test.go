package session

import "testing"

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateIdle, StateListening},
		{StateListening, StateRecognizing},
		{StateRecognizing, StateResponding},
		{StateRecognizing, StateListening},
		{StateResponding, StateSpeaking},
		{StateResponding, StateListening},
		{StateSpeaking, StateListening},
		{StateIdle, StateError},
		{StateSpeaking, StateError},
		{StateError, StateClosed},
		{StateIdle, StateClosed},
		{StateSpeaking, StateClosed},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to State }{
		{StateIdle, StateRecognizing},
		{StateIdle, StateSpeaking},
		{StateListening, StateResponding},
		{StateListening, StateSpeaking},
		{StateRecognizing, StateSpeaking},
		{StateSpeaking, StateResponding},
		{StateClosed, StateListening},
		{StateClosed, StateError},
		{StateClosed, StateClosed},
		{StateError, StateListening},
		{StateError, StateError},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestTerminalStatesAcceptNoAudio(t *testing.T) {
	for _, s := range []State{StateError, StateClosed} {
		if !IsTerminal(s) {
			t.Fatalf("IsTerminal(%s) = false", s)
		}
		if AcceptsAudio(s) {
			t.Fatalf("AcceptsAudio(%s) = true", s)
		}
	}
	if AcceptsAudio(StateIdle) {
		t.Fatalf("AcceptsAudio(idle) = true, want false before client_ready")
	}
	for _, s := range []State{StateListening, StateRecognizing, StateResponding, StateSpeaking} {
		if !AcceptsAudio(s) {
			t.Fatalf("AcceptsAudio(%s) = false", s)
		}
	}
}
