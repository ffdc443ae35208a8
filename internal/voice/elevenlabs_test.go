package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newFloodingWSServer upgrades every request and writes the given payload
// in a tight loop until the peer disconnects.
func newFloodingWSServer(t *testing.T, payload map[string]any) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}))
}

func wsBaseURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func drainUntilClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel never closed after Close")
		}
	}
}

func TestElevenSTTCloseDuringEventBurst(t *testing.T) {
	ts := newFloodingWSServer(t, map[string]any{"message_type": "partial_transcript", "text": "hello"})
	defer ts.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", WSBaseURL: wsBaseURL(ts)})
	sess, events, err := p.StartSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	// Close mid-stream while the read loop is actively delivering.
	<-events
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	drainUntilClosed(t, events)
}

func TestElevenTTSCloseDuringEventBurst(t *testing.T) {
	ts := newFloodingWSServer(t, map[string]any{"audio": "YXVkaW8="})
	defer ts.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", WSBaseURL: wsBaseURL(ts)})
	stream, err := p.StartStream(context.Background(), "voice-1", "model-1")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	<-stream.Events()
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	drainUntilClosed(t, stream.Events())
}
