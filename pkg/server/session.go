package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/zasr/pkg/asr"
	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/config"
	"github.com/haivivi/zasr/pkg/inference"
)

// State is the session lifecycle state.
type State int

const (
	StateConnected State = iota
	StateStarted
	StateProcessing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStarted:
		return "started"
	case StateProcessing:
		return "processing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transport is the narrow channel capability handed to a session: post a
// text frame to the connection's writer, or close the channel normally.
// Neither call blocks on the network; both are safe after the channel
// died (they become no-ops).
type transport interface {
	SendText(data []byte)
	CloseNormal(reason string)
}

// Session is the per-connection protocol state machine and event emitter.
// Text frames are handled inline on the connection's reader; binary frames
// arrive serialized through the worker pool. The internal lock makes the
// two paths safe against each other and against the sweeper.
type Session struct {
	log *slog.Logger
	cfg *config.Config
	tk  inference.Toolkit

	// Shared, optional collaborators.
	punctuator inference.Punctuator
	identifier asr.Identifier

	out transport

	mu           sync.Mutex
	state        State
	id           string
	engine       asr.Engine
	lastActivity time.Time
}

func newSession(cfg *config.Config, tk inference.Toolkit, punctuator inference.Punctuator,
	identifier asr.Identifier, out transport, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:          log,
		cfg:          cfg,
		tk:           tk,
		punctuator:   punctuator,
		identifier:   identifier,
		out:          out,
		state:        StateConnected,
		lastActivity: time.Now(),
	}
}

// ID returns the session id ("" before Begin).
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last inbound frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// HandleText processes one inbound text frame.
func (s *Session) HandleText(data []byte) {
	s.touch()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("server: text handler panicked", "panic", r)
			s.sendError(CodeProcessingMessage, "Error processing message")
		}
	}()

	var msg inMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(CodeInvalidJSON, "Invalid JSON format: "+err.Error())
		return
	}
	if len(msg.Header) == 0 {
		s.sendError(CodeInvalidHeader, "Missing or invalid header")
		return
	}
	var hdr Header
	if err := json.Unmarshal(msg.Header, &hdr); err != nil {
		s.sendError(CodeInvalidHeader, "Missing or invalid header")
		return
	}
	if hdr.Name == "" {
		s.sendError(CodeMissingName, "Missing name in header")
		return
	}

	switch hdr.Name {
	case actionBegin:
		s.handleBegin(msg.Payload)
	case actionEnd:
		s.handleEnd()
	default:
		s.sendError(CodeUnsupportedName, "Unsupported message name: "+hdr.Name)
	}
}

func (s *Session) handleBegin(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		s.sendError(CodeInvalidStateForStart, "Invalid state for Begin")
		return
	}
	if s.cfg == nil || s.tk == nil {
		s.sendError(CodeConfigUnavailable, "Server configuration not available")
		return
	}

	p := defaultBeginPayload()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			s.sendError(CodeProtocolProcessing, "Error processing protocol message: "+err.Error())
			return
		}
	}
	if p.Format != "pcm" {
		s.sendError(CodeUnsupportedFormat, "Unsupported audio format: "+p.Format)
		return
	}
	if p.Rate != audio.SampleRate {
		s.sendError(CodeUnsupportedSampleRate, fmt.Sprintf("Unsupported sample rate: %dHz", p.Rate))
		return
	}

	itn := s.cfg.Recognizer.UseITN
	if p.ITN != nil {
		itn = *p.ITN
	}
	engine, err := s.buildEngine(itn, p.Silence)
	if err != nil {
		s.log.Error("server: engine setup failed", "error", err)
		s.sendError(CodeStartProcessing, "Error processing Begin: "+err.Error())
		return
	}
	s.engine = engine

	s.id = p.SessionID
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.send(eventStarted, startedPayload{SID: s.id})
	s.state = StateStarted
	s.log.Info("server: transcription started", "session", s.id, "itn", itn, "silence_ms", p.Silence)
}

func (s *Session) handleEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected:
		s.sendError(CodeNotStarted, "Transcription not started")
		return
	case StateClosing, StateClosed:
		return
	}

	s.state = StateClosing
	if s.engine != nil {
		if err := s.engine.Finish(); err != nil {
			s.log.Warn("server: engine drain failed", "session", s.id, "error", err)
		}
	}
	s.send(eventCompleted, nil)
	s.closeLocked("Transcription completed")
}

// HandleBinary processes one inbound audio frame. It is called from the
// worker pool, in submission order for any one connection.
func (s *Session) HandleBinary(data []byte) {
	s.touch()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("server: binary handler panicked", "session", s.ID(), "panic", r)
			s.sendError(CodeProcessingMessage, "Error processing message")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing, StateClosed:
		return
	case StateStarted, StateProcessing:
	default:
		s.sendError(CodeWrongState, "Transcription not started or wrong state")
		return
	}

	if len(data) < audio.BytesPerSample {
		return
	}
	s.state = StateProcessing

	// An inference failure drops the chunk; the session continues.
	if err := s.engine.Ingest(audio.Int16FromBytes(data)); err != nil {
		s.log.Warn("server: ingest failed, chunk dropped", "session", s.id, "error", err)
	}
}

// Close terminates the session from outside the protocol (peer
// disconnect, idle sweep, server shutdown). Terminal events are emitted
// best-effort when transcription had started. Calling Close on a closing
// or closed session has no effect.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing, StateClosed:
		return
	}
	started := s.state != StateConnected
	s.state = StateClosing

	if started && s.engine != nil {
		if err := s.engine.Finish(); err != nil {
			s.log.Warn("server: engine drain failed", "session", s.id, "error", err)
		}
		s.send(eventCompleted, nil)
	}
	s.closeLocked(reason)
}

// closeLocked finishes the transition to StateClosed. Callers hold s.mu
// and have already set StateClosing.
func (s *Session) closeLocked(reason string) {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warn("server: engine close failed", "session", s.id, "error", err)
		}
		s.engine = nil
	}
	s.state = StateClosed
	s.out.CloseNormal(reason)
	s.log.Info("server: session closed", "session", s.id, "reason", reason)
}

// send posts a successful event frame.
func (s *Session) send(name string, payload any) {
	if data := encodeEvent(name, payload, StatusSuccess, successText); data != nil {
		s.out.SendText(data)
	}
}

// sendError posts a Failed event carrying the error code.
func (s *Session) sendError(code Code, statusText string) {
	s.log.Warn("server: "+code.String(), "session", s.id, "status", int(code), "detail", statusText)
	if data := encodeEvent(eventFailed, nil, int(code), statusText); data != nil {
		s.out.SendText(data)
	}
}

// The session is the engine's emitter: recognition events become protocol
// frames. Engine calls happen under s.mu, so these sends are ordered with
// every other frame of the session.

func (s *Session) SentenceBegin(index int, timeMS int64) {
	s.send(eventSentenceBegin, sentenceBeginPayload{Idx: index, Time: timeMS})
}

func (s *Session) Result(index int, timeMS int64, text string) {
	s.send(eventResult, resultPayload{Idx: index, Time: timeMS, Text: text})
}

func (s *Session) SentenceEnd(index int, timeMS, beginMS int64, text string, speaker *asr.Speaker) {
	p := sentenceEndPayload{Idx: index, Time: timeMS, Begin: beginMS, Text: text}
	if speaker != nil {
		p.SpeakerID = speaker.ID
		p.Speaker = speaker.Name
	}
	s.send(eventSentenceEnd, p)
}

var _ asr.Emitter = (*Session)(nil)
