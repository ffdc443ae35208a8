package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hklearn/lanvoice/internal/config"
	"github.com/hklearn/lanvoice/internal/observability"
	"github.com/hklearn/lanvoice/internal/protocol"
	"github.com/hklearn/lanvoice/internal/session"
)

func newTestServer(t *testing.T, orch Orchestrator) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		TutorPersonaID:           "teacher_lan",
		SpeechTTSVoice:           "voice-1",
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi_" + strconv.FormatInt(time.Now().UnixNano(), 10))
	srv := New(cfg, sessions, orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func TestCreateAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"learner_id": "learner-1"})
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("missing session_id in create response")
	}
	if created.PersonaID != "teacher_lan" || created.VoiceID != "voice-1" {
		t.Fatalf("defaults not applied: %+v", created)
	}
	if created.State != session.StateIdle {
		t.Fatalf("State = %s, want idle", created.State)
	}

	endRes, err := http.Post(ts.URL+"/v1/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	var ended session.Session
	if err := json.NewDecoder(endRes.Body).Decode(&ended); err != nil {
		t.Fatalf("decode end response: %v", err)
	}
	if ended.State != session.StateClosed {
		t.Fatalf("State = %s, want closed", ended.State)
	}
}

func TestEndUnknownSessionReturnsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	res, err := http.Post(ts.URL+"/v1/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}

// echoOrchestrator answers client_ready with session_ready and records
// every audio frame it receives.
type echoOrchestrator struct {
	frames chan protocol.AudioFrame
}

func (o *echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientReady:
				outbound <- protocol.SessionReady{Type: protocol.TypeSessionReady, Seq: 1, SessionID: s.ID, SampleRate: 16000}
			case protocol.AudioFrame:
				o.frames <- m
			}
		}
	}
}

func (o *echoOrchestrator) PreviewTTS(context.Context, string, string) ([]byte, string, error) {
	return []byte("RIFF"), "wav", nil
}

func TestSessionWSBridgesBinaryAndControl(t *testing.T) {
	orch := &echoOrchestrator{frames: make(chan protocol.AudioFrame, 4)}
	ts, sessions := newTestServer(t, orch)
	sess := sessions.Create("learner-1", "", "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	ready, _ := json.Marshal(protocol.ClientReady{Type: protocol.TypeClientReady, SessionID: sess.ID, SampleRate: 16000, Channels: 1})
	if err := conn.WriteMessage(websocket.TextMessage, ready); err != nil {
		t.Fatalf("write client_ready: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read session_ready: %v", err)
	}
	var readyMsg protocol.SessionReady
	if err := json.Unmarshal(data, &readyMsg); err != nil || readyMsg.Type != protocol.TypeSessionReady {
		t.Fatalf("got %s, want session_ready", data)
	}
	if readyMsg.Seq == 0 {
		t.Fatalf("session_ready carries no sequence number: %s", data)
	}

	frame := protocol.AudioFrame{Seq: 7, SampleRate: 16000, Channels: 1, Samples: []float32{0.1, 0.2}}
	encoded, err := protocol.EncodeAudioFrame(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case got := <-orch.frames:
		if got.Seq != 7 || len(got.Samples) != 2 {
			t.Fatalf("frame = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never reached orchestrator")
	}

	// Malformed binary yields a gateway error event, not a disconnect.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error event: %v", err)
	}
	var evt protocol.ErrorEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.Code != "invalid_audio_frame" {
		t.Fatalf("got %s, want invalid_audio_frame", data)
	}
	// Gateway rejects share the connection's sequence stream.
	if evt.Seq <= readyMsg.Seq {
		t.Fatalf("error event seq = %d, want > %d", evt.Seq, readyMsg.Seq)
	}
}

func TestSessionWSRejectsSecondAttach(t *testing.T) {
	orch := &echoOrchestrator{frames: make(chan protocol.AudioFrame, 4)}
	ts, sessions := newTestServer(t, orch)
	sess := sessions.Create("learner-1", "", "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sess.ID
	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial error = %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("second dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second dial response = %+v, want %d", resp, http.StatusConflict)
	}

	// Disconnecting the first connection frees the slot for a new one.
	first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("redial after disconnect error = %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &echoOrchestrator{frames: make(chan protocol.AudioFrame, 1)})

	res, err := http.Get(ts.URL + "/v1/session/ws?session_id=missing")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestPreviewTTSValidation(t *testing.T) {
	ts, _ := newTestServer(t, &echoOrchestrator{frames: make(chan protocol.AudioFrame, 1)})

	res, err := http.Post(ts.URL+"/v1/tts/preview", "application/json", strings.NewReader(`{"text":""}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	ok, err := http.Post(ts.URL+"/v1/tts/preview", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", ok.StatusCode, http.StatusOK)
	}
	if ct := ok.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", ct)
	}
}
