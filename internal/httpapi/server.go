package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hklearn/lanvoice/internal/config"
	"github.com/hklearn/lanvoice/internal/observability"
	"github.com/hklearn/lanvoice/internal/protocol"
	"github.com/hklearn/lanvoice/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
	PreviewTTS(ctx context.Context, voiceID, text string) ([]byte, string, error)
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. This keeps
				// other websites from driving a learner's mic session when
				// the service is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/{id}", s.handleGetSession)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Post("/v1/tts/preview", s.handlePreviewTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.LearnerID) == "" {
		req.LearnerID = "anonymous"
	}
	if strings.TrimSpace(req.PersonaID) == "" {
		req.PersonaID = s.cfg.TutorPersonaID
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.SpeechTTSVoice
	}

	sess := s.sessions.Create(req.LearnerID, req.PersonaID, req.VoiceID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		LearnerID:       sess.LearnerID,
		State:           sess.State,
		PersonaID:       sess.PersonaID,
		VoiceID:         sess.VoiceID,
		CreatedAt:       sess.CreatedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Close(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type previewRequest struct {
	VoiceID string `json:"voice_id"`
	Text    string `json:"text"`
}

func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	data, format, err := s.orchestrator.PreviewTTS(r.Context(), req.VoiceID, req.Text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}

	contentType := "application/octet-stream"
	if format == "wav" {
		contentType = "audio/wav"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleSessionWS upgrades the connection and bridges it to the session
// orchestrator. Binary frames carry learner audio, text frames carry JSON
// control messages; all writes stay on a single writer goroutine.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if session.IsTerminal(sess.State) {
		respondError(w, http.StatusConflict, "session_closed", "session already ended")
		return
	}
	if err := s.sessions.Attach(sessionID); err != nil {
		if errors.Is(err, session.ErrAlreadyAttached) {
			respondError(w, http.StatusConflict, "session_busy", "another connection already drives this session")
			return
		}
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	defer s.sessions.Detach(sessionID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
		cancel()
	}()

	// The writer owns the outbound sequence: orchestrator messages and
	// gateway rejects share one monotonic stream per connection.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				seq++
				msg = stampSeq(msg, seq)
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			frame, decErr := protocol.DecodeAudioFrame(data)
			if decErr != nil {
				s.rejectClientMessage(outbound, sessionID, "invalid_audio_frame", decErr)
				continue
			}
			parsed = frame
			s.metrics.WSMessages.WithLabelValues("inbound", "audio_frame").Inc()
		case websocket.TextMessage:
			msg, parseErr := protocol.ParseClientMessage(data)
			if parseErr != nil {
				s.rejectClientMessage(outbound, sessionID, "invalid_client_message", parseErr)
				continue
			}
			parsed = msg
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) rejectClientMessage(outbound chan<- any, sessionID, code string, err error) {
	evt := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: false,
		Detail:    err.Error(),
	}
	select {
	case outbound <- evt:
	default:
		// Writes stay single-threaded; drop if the outbound queue is saturated.
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// stampSeq assigns the connection-scoped sequence number to an outbound
// message. Unknown payloads pass through untouched.
func stampSeq(v any, seq uint64) any {
	switch m := v.(type) {
	case protocol.SessionReady:
		m.Seq = seq
		return m
	case protocol.STTPartial:
		m.Seq = seq
		return m
	case protocol.STTFinal:
		m.Seq = seq
		return m
	case protocol.ReplyTextChunk:
		m.Seq = seq
		return m
	case protocol.TutorAudioChunk:
		m.Seq = seq
		return m
	case protocol.BargeInNotice:
		m.Seq = seq
		return m
	case protocol.ErrorEvent:
		m.Seq = seq
		return m
	case protocol.SessionClosed:
		m.Seq = seq
		return m
	default:
		return v
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientReady:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionReady:
		return m.Type, true
	case protocol.STTPartial:
		return m.Type, true
	case protocol.STTFinal:
		return m.Type, true
	case protocol.ReplyTextChunk:
		return m.Type, true
	case protocol.TutorAudioChunk:
		return m.Type, true
	case protocol.BargeInNotice:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.SessionClosed:
		return m.Type, true
	default:
		return "", false
	}
}
