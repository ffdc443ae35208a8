package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hklearn/lanvoice/internal/audio"
	"github.com/hklearn/lanvoice/internal/memory"
	"github.com/hklearn/lanvoice/internal/observability"
	"github.com/hklearn/lanvoice/internal/policy"
	"github.com/hklearn/lanvoice/internal/protocol"
	"github.com/hklearn/lanvoice/internal/session"
	"github.com/hklearn/lanvoice/internal/tutor"
)

const (
	historyContextLimit   = 8
	historyContextTimeout = 350 * time.Millisecond
	turnSaveTimeout       = 2 * time.Second
	previewTimeout        = 20 * time.Second
)

// Options carries the tunables the orchestrator needs per connection.
type Options struct {
	IngestQueueSize   int
	SilenceTimeout    time.Duration
	DefaultVoiceID    string
	DefaultPersonaID  string
	FallbackReplyText string
}

// Orchestrator drives the full listen-recognize-respond-speak loop for
// live sessions. One RunConnection call owns one websocket connection.
type Orchestrator struct {
	sessions   *session.Manager
	recognizer *Recognizer
	responder  *Responder
	synth      *Synthesizer
	store      memory.Store
	converter  *audio.Converter
	metrics    *observability.Metrics
	opts       Options
}

func NewOrchestrator(
	sessions *session.Manager,
	recognizer *Recognizer,
	responder *Responder,
	synth *Synthesizer,
	store memory.Store,
	converter *audio.Converter,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	if opts.IngestQueueSize <= 0 {
		opts.IngestQueueSize = 64
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = 1500 * time.Millisecond
	}
	if opts.DefaultPersonaID == "" {
		opts.DefaultPersonaID = tutor.DefaultPersonaID
	}
	return &Orchestrator{
		sessions:   sessions,
		recognizer: recognizer,
		responder:  responder,
		synth:      synth,
		store:      store,
		converter:  converter,
		metrics:    metrics,
		opts:       opts,
	}
}

// RunConnection drives a session lifecycle for one websocket connection.
// Inbound carries decoded protocol messages; outbound receives typed
// messages for the connection writer.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	var outSeq uint64
	nextSeq := func() uint64 { return atomic.AddUint64(&outSeq, 1) }
	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}
	sendError := func(code, source, detail string, retryable bool) {
		o.metrics.EngineErrors.WithLabelValues(source, code).Inc()
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Seq:       nextSeq(),
			SessionID: s.ID,
			Code:      code,
			Source:    source,
			Retryable: retryable,
			Detail:    detail,
		})
	}

	// Recognition start is retried with backoff; exhaustion degrades the
	// session instead of killing it.
	var (
		sttSession STTSession
		sttEvents  <-chan STTEvent
	)
	sttSession, sttEvents, err := o.recognizer.Start(ctx, s.ID)
	switch {
	case err == nil:
		defer sttSession.Close()
	case errors.Is(err, ErrEngineUnavailable):
		_ = o.sessions.MarkDegraded(s.ID)
		o.metrics.SessionEvents.WithLabelValues("degraded").Inc()
		sendError("degraded_mode", "stt", err.Error(), false)
	case errors.Is(err, ErrAuthRejected):
		// Bad credentials cannot recover within this session.
		o.transition(s.ID, session.StateError)
		sendError("fatal_engine_auth", "stt", err.Error(), false)
		_, _ = o.sessions.Close(s.ID)
		o.metrics.StateTransitions.WithLabelValues(string(session.StateClosed)).Inc()
		send(protocol.SessionClosed{
			Type:      protocol.TypeSessionClosed,
			Seq:       nextSeq(),
			SessionID: s.ID,
			Reason:    "fatal_engine_auth",
		})
		return err
	default:
		return err
	}

	queue := audio.NewFrameQueue(o.opts.IngestQueueSize)
	defer queue.Close()
	var lastDropped uint64
	syncDropped := func() {
		if d := queue.Dropped(); d != lastDropped {
			o.metrics.DroppedFrames.Add(float64(d - lastDropped))
			lastDropped = d
		}
	}

	commit := func() {
		if sttSession == nil {
			return
		}
		if err := sttSession.SendAudioChunk(ctx, "", o.converter.TargetRate(), true); err != nil {
			sendError("stt_commit_failed", "stt", err.Error(), true)
		}
	}

	if sttSession != nil {
		go o.feedRecognizer(ctx, queue, sttSession, sendError)
	}

	var (
		turnMu     sync.Mutex
		turnCancel context.CancelFunc
		turnDone   chan struct{}
		activeTurn string
		turnToken  int64
		nextToken  int64
	)

	cancelActiveTurn := func() (turnID string, wasActive bool) {
		turnMu.Lock()
		cancel := turnCancel
		done := turnDone
		turnID = activeTurn
		turnCancel = nil
		turnDone = nil
		activeTurn = ""
		turnMu.Unlock()
		if cancel == nil {
			return "", false
		}
		cancel()
		if done != nil {
			// Join the turn goroutine so nothing from the cancelled turn
			// can follow a barge-in notice.
			<-done
		}
		return turnID, true
	}

	bargeIn := func() {
		turnID, wasActive := cancelActiveTurn()
		if !wasActive {
			return
		}
		_ = o.sessions.RecordBargeIn(s.ID)
		o.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
		send(protocol.BargeInNotice{
			Type:      protocol.TypeBargeInNotice,
			Seq:       nextSeq(),
			SessionID: s.ID,
			TurnID:    turnID,
		})
		o.transition(s.ID, session.StateListening)
	}

	startTurn := func(transcript string) {
		turnMu.Lock()
		busy := turnCancel != nil
		turnMu.Unlock()
		if busy {
			// A late commit raced an ongoing reply. The newer utterance wins.
			bargeIn()
		}

		st, err := o.sessions.StateOf(s.ID)
		if err != nil {
			return
		}
		if st == session.StateListening {
			o.transition(s.ID, session.StateRecognizing)
		}
		if !o.transition(s.ID, session.StateResponding) {
			return
		}

		turnID := uuid.NewString()
		turnCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		turnMu.Lock()
		nextToken++
		token := nextToken
		turnCancel = cancel
		turnDone = done
		activeTurn = turnID
		turnToken = token
		turnMu.Unlock()

		o.metrics.SessionEvents.WithLabelValues("turn_started").Inc()

		go func() {
			defer cancel()
			defer close(done)
			defer func() {
				turnMu.Lock()
				if turnToken == token {
					turnCancel = nil
					turnDone = nil
					activeTurn = ""
					turnToken = 0
				}
				turnMu.Unlock()
			}()

			err := o.runTutorTurn(turnCtx, s.ID, transcript, turnID, send, nextSeq)
			if err == nil {
				o.metrics.SessionEvents.WithLabelValues("turn_completed").Inc()
				return
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			sendError("turn_failed", "orchestrator", err.Error(), false)
			o.transition(s.ID, session.StateListening)
		}()
	}

	closeSession := func(reason string) {
		cancelActiveTurn()
		_, _ = o.sessions.Close(s.ID)
		o.metrics.StateTransitions.WithLabelValues(string(session.StateClosed)).Inc()
		send(protocol.SessionClosed{
			Type:      protocol.TypeSessionClosed,
			Seq:       nextSeq(),
			SessionID: s.ID,
			Reason:    reason,
		})
	}

	for {
		select {
		case <-ctx.Done():
			cancelActiveTurn()
			return nil

		case msg, ok := <-inbound:
			if !ok {
				cancelActiveTurn()
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientReady:
				_ = o.sessions.Touch(s.ID)
				if st, err := o.sessions.StateOf(s.ID); err == nil && st == session.StateIdle {
					if o.transition(s.ID, session.StateListening) {
						send(protocol.SessionReady{
							Type:       protocol.TypeSessionReady,
							Seq:        nextSeq(),
							SessionID:  s.ID,
							SampleRate: o.converter.TargetRate(),
						})
					}
				}

			case protocol.AudioFrame:
				_ = o.sessions.Touch(s.ID)
				st, err := o.sessions.StateOf(s.ID)
				if err == nil && st == session.StateIdle {
					// Audio before client_ready is a protocol violation.
					sendError("session_not_active", "orchestrator", "audio frame before client_ready", false)
					closeSession("protocol_violation")
					return nil
				}
				if err != nil || !session.AcceptsAudio(st) {
					o.metrics.SessionEvents.WithLabelValues("frame_rejected").Inc()
					continue
				}
				// Validate before barge-in: a malformed frame is rejected
				// without touching the reply in flight.
				pcm, err := o.converter.Convert(m.Samples, m.SampleRate, m.Channels)
				if err != nil {
					sendError("bad_audio_format", "ingest", err.Error(), false)
					continue
				}
				if st == session.StateResponding || st == session.StateSpeaking {
					// Learner speech interrupts the reply before the new
					// audio enters the pipeline.
					bargeIn()
				}
				if sttSession == nil {
					continue
				}
				queue.Enqueue(audio.Frame{Seq: m.Seq, PCM: pcm, ReceivedAt: time.Now()})
				syncDropped()

			case protocol.ClientControl:
				_ = o.sessions.Touch(s.ID)
				switch m.Action {
				case protocol.ActionStop:
					if sttSession == nil {
						o.runDegradedReply(s.ID, send, nextSeq)
						continue
					}
					commit()
				case protocol.ActionInterrupt:
					bargeIn()
				case protocol.ActionClose:
					closeSession("client_request")
					return nil
				}
			}

		case evt, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				continue
			}
			switch evt.Type {
			case STTEventPartial:
				if st, err := o.sessions.StateOf(s.ID); err == nil && st == session.StateListening {
					o.transition(s.ID, session.StateRecognizing)
				}
				send(protocol.STTPartial{
					Type:       protocol.TypeSTTPartial,
					Seq:        nextSeq(),
					SessionID:  s.ID,
					Text:       evt.Text,
					Confidence: evt.Confidence,
					TSMs:       evt.Timestamp,
				})

			case STTEventCommitted:
				text := strings.TrimSpace(evt.Text)
				if text == "" {
					o.metrics.SessionEvents.WithLabelValues("no_speech").Inc()
					sendError("no_speech", "stt", "no speech detected in committed window", true)
					if st, err := o.sessions.StateOf(s.ID); err == nil && st == session.StateRecognizing {
						o.transition(s.ID, session.StateListening)
					}
					continue
				}
				send(protocol.STTFinal{
					Type:       protocol.TypeSTTFinal,
					Seq:        nextSeq(),
					SessionID:  s.ID,
					Text:       text,
					Confidence: evt.Confidence,
					TSMs:       evt.Timestamp,
				})
				startTurn(text)

			case STTEventError:
				sendError(evt.Code, "stt", evt.Detail, evt.Retryable)
			}
		}
	}
}

// feedRecognizer drains the ingest queue into the recognition session. A
// dequeue that times out with uncommitted audio triggers the silence
// commit, which produces the final transcript for the utterance.
func (o *Orchestrator) feedRecognizer(ctx context.Context, queue *audio.FrameQueue, stt STTSession, sendError func(code, source, detail string, retryable bool)) {
	uncommitted := false
	for {
		dctx, cancel := context.WithTimeout(ctx, o.opts.SilenceTimeout)
		frame, err := queue.Dequeue(dctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if uncommitted {
					uncommitted = false
					if err := stt.SendAudioChunk(ctx, "", o.converter.TargetRate(), true); err != nil {
						sendError("stt_commit_failed", "stt", err.Error(), true)
					}
				}
				continue
			}
			return
		}

		encoded := base64.StdEncoding.EncodeToString(audio.PCM16Bytes(frame.PCM))
		if err := stt.SendAudioChunk(ctx, encoded, o.converter.TargetRate(), false); err != nil {
			sendError("stt_send_audio_failed", "stt", err.Error(), true)
			continue
		}
		uncommitted = true
	}
}

func (o *Orchestrator) runTutorTurn(
	ctx context.Context,
	sessionID, transcript, turnID string,
	send func(any),
	nextSeq func() uint64,
) error {
	start := time.Now()
	snap, err := o.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	personaID := snap.PersonaID
	if personaID == "" {
		personaID = o.opts.DefaultPersonaID
	}

	redacted, changed := policy.RedactTranscript(transcript)
	o.saveTurnBestEffort(memory.TurnRecord{
		LearnerID:   snap.LearnerID,
		SessionID:   sessionID,
		Role:        memory.RoleLearner,
		Content:     redacted,
		PIIRedacted: changed,
	})

	history := o.loadHistory(ctx, sessionID)

	chunkSeq := 0
	onDelta := func(delta string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chunkSeq++
		send(protocol.ReplyTextChunk{
			Type:      protocol.TypeReplyTextChunk,
			Seq:       nextSeq(),
			SessionID: sessionID,
			TurnID:    turnID,
			ChunkSeq:  chunkSeq,
			Text:      delta,
		})
		return nil
	}

	text, degraded, err := o.responder.GenerateReply(ctx, tutor.ReplyRequest{
		LearnerID:  snap.LearnerID,
		SessionID:  sessionID,
		TurnID:     turnID,
		Transcript: transcript,
		History:    history,
		PersonaID:  personaID,
	}, onDelta)
	if err != nil {
		return err
	}

	if degraded {
		_ = o.sessions.MarkDegraded(sessionID)
		o.metrics.SessionEvents.WithLabelValues("degraded").Inc()
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Seq:       nextSeq(),
			SessionID: sessionID,
			Code:      "degraded_mode",
			Source:    "tutor",
			Retryable: true,
			Detail:    "reply generator unavailable, substituted fallback reply",
		})
		chunkSeq++
		send(protocol.ReplyTextChunk{
			Type:      protocol.TypeReplyTextChunk,
			Seq:       nextSeq(),
			SessionID: sessionID,
			TurnID:    turnID,
			ChunkSeq:  chunkSeq,
			Text:      text,
			Degraded:  true,
		})
	}

	chunkSeq++
	send(protocol.ReplyTextChunk{
		Type:      protocol.TypeReplyTextChunk,
		Seq:       nextSeq(),
		SessionID: sessionID,
		TurnID:    turnID,
		ChunkSeq:  chunkSeq,
		Final:     true,
		Degraded:  degraded,
	})

	o.saveTurnBestEffort(memory.TurnRecord{
		LearnerID: snap.LearnerID,
		SessionID: sessionID,
		Role:      memory.RoleTutor,
		Content:   text,
		Degraded:  degraded,
	})

	// Degraded turns stay text-only so a flapping synthesis engine cannot
	// stall the session further.
	if degraded || strings.TrimSpace(text) == "" {
		o.transition(sessionID, session.StateListening)
		return nil
	}

	voiceID := snap.VoiceID
	if voiceID == "" {
		voiceID = o.opts.DefaultVoiceID
	}

	spoke := false
	err = o.synth.Speak(ctx, voiceID, text, func(chunk SynthChunk) error {
		if !spoke && !chunk.Final {
			spoke = true
			o.transition(sessionID, session.StateSpeaking)
			o.metrics.ObserveFirstAudioLatency(time.Since(start))
		}
		send(protocol.TutorAudioChunk{
			Type:        protocol.TypeTutorAudio,
			Seq:         nextSeq(),
			SessionID:   sessionID,
			TurnID:      turnID,
			ChunkSeq:    chunk.Seq,
			Format:      chunk.Format,
			AudioBase64: chunk.AudioBase64,
			Final:       chunk.Final,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		o.metrics.EngineErrors.WithLabelValues("tts", "synthesis_failed").Inc()
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Seq:       nextSeq(),
			SessionID: sessionID,
			Code:      "synthesis_failed",
			Source:    "tts",
			Retryable: true,
			Detail:    err.Error(),
		})
	}

	o.transition(sessionID, session.StateListening)
	return nil
}

// runDegradedReply answers a stop request when recognition never came up:
// there is no transcript, so the session replies with the fixed fallback.
func (o *Orchestrator) runDegradedReply(sessionID string, send func(any), nextSeq func() uint64) {
	turnID := uuid.NewString()
	send(protocol.ReplyTextChunk{
		Type:      protocol.TypeReplyTextChunk,
		Seq:       nextSeq(),
		SessionID: sessionID,
		TurnID:    turnID,
		ChunkSeq:  1,
		Text:      o.opts.FallbackReplyText,
		Degraded:  true,
	})
	send(protocol.ReplyTextChunk{
		Type:      protocol.TypeReplyTextChunk,
		Seq:       nextSeq(),
		SessionID: sessionID,
		TurnID:    turnID,
		ChunkSeq:  2,
		Final:     true,
		Degraded:  true,
	})
	o.metrics.SessionEvents.WithLabelValues("degraded_reply").Inc()
}

func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []tutor.ContextTurn {
	if o.store == nil {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, historyContextTimeout)
	defer cancel()
	records, err := o.store.SessionTurns(hctx, sessionID, historyContextLimit)
	if err != nil {
		return nil
	}
	turns := make([]tutor.ContextTurn, 0, len(records))
	for _, r := range records {
		turns = append(turns, tutor.ContextTurn{Role: r.Role, Content: r.Content})
	}
	return turns
}

func (o *Orchestrator) saveTurnBestEffort(record memory.TurnRecord) {
	if o.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnSaveTimeout)
		defer cancel()
		_ = o.store.SaveTurn(ctx, record)
	}()
}

func (o *Orchestrator) transition(sessionID string, to session.State) bool {
	if err := o.sessions.Transition(sessionID, to); err != nil {
		return false
	}
	o.metrics.StateTransitions.WithLabelValues(string(to)).Inc()
	return true
}

// PreviewTTS renders a one-off utterance outside any session. Raw PCM
// vendor output is wrapped as WAV so the result plays directly.
func (o *Orchestrator) PreviewTTS(ctx context.Context, voiceID, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("text is required")
	}
	if voiceID == "" {
		voiceID = o.opts.DefaultVoiceID
	}

	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	var (
		pcm    []byte
		format string
	)
	err := o.synth.Speak(ctx, voiceID, text, func(chunk SynthChunk) error {
		if chunk.AudioBase64 == "" {
			return nil
		}
		raw, decErr := base64.StdEncoding.DecodeString(chunk.AudioBase64)
		if decErr != nil {
			return fmt.Errorf("decode audio chunk: %w", decErr)
		}
		pcm = append(pcm, raw...)
		if format == "" {
			format = chunk.Format
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if len(pcm) == 0 {
		return nil, "", fmt.Errorf("synthesis produced no audio")
	}

	if rate, ok := pcmRate(format); ok {
		wav, wavErr := audio.EncodeWAVPCM16LE(pcm, rate)
		if wavErr != nil {
			return nil, "", wavErr
		}
		return wav, "wav", nil
	}
	return pcm, format, nil
}

func pcmRate(format string) (int, bool) {
	if !strings.HasPrefix(format, "pcm_") {
		return 0, false
	}
	rate, err := strconv.Atoi(strings.TrimPrefix(format, "pcm_"))
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}
