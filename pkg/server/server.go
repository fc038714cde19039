// Package server is the WebSocket gateway: it accepts channels, speaks
// the transcription protocol, and supervises per-connection sessions.
//
// # Threading model
//
// Each connection has one reader goroutine (the HTTP handler) and one
// writer goroutine. Text frames are handled inline on the reader; binary
// frames are queued per connection and drained through a shared worker
// pool, so audio decoding parallelizes across connections while frames of
// one connection stay in submission order. All outbound frames funnel
// through the writer goroutine because the underlying WebSocket
// connection is not safe for concurrent writes.
//
// A 1 s sweeper closes sessions whose last inbound activity exceeds the
// configured timeouts.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/zasr/pkg/asr"
	"github.com/haivivi/zasr/pkg/config"
	"github.com/haivivi/zasr/pkg/inference"
	"github.com/haivivi/zasr/pkg/voiceprint"
)

const closeWriteWait = 5 * time.Second

// Server supervises WebSocket transcription connections.
type Server struct {
	cfg *config.Config
	tk  inference.Toolkit
	log *slog.Logger

	punctuator inference.Punctuator
	speakerID  *voiceprint.Identifier

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool

	work      chan func()
	workerWG  sync.WaitGroup
	stop      chan struct{}
	sweepDone chan struct{}
}

// New builds a server from the configuration and a registered toolkit.
// The shared punctuator and speaker identifier are constructed here once;
// per-session recognizers are created at Begin. Worker and sweeper
// goroutines start immediately; Shutdown stops them.
func New(cfg *config.Config, tk inference.Toolkit, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		tk:  tk,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:     make(map[*conn]struct{}),
		work:      make(chan func(), 4*cfg.WorkerThreads),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if cfg.Punctuation.Enabled {
		p, err := tk.NewPunctuator(inference.PunctuationConfig{
			Model:      cfg.Punctuation.Model,
			NumThreads: cfg.Recognizer.NumThreads,
			Provider:   cfg.Recognizer.Provider,
		})
		if err != nil {
			log.Warn("server: punctuation unavailable", "error", err)
		} else {
			s.punctuator = p
		}
	}

	if cfg.Speaker.Enabled {
		id, err := newSpeakerIdentifier(cfg, tk, log)
		if err != nil {
			log.Warn("server: speaker identification unavailable", "error", err)
		} else {
			s.speakerID = id
		}
	}

	for range cfg.WorkerThreads {
		s.workerWG.Add(1)
		go s.worker()
	}
	go s.sweep()
	return s, nil
}

func newSpeakerIdentifier(cfg *config.Config, tk inference.Toolkit, log *slog.Logger) (*voiceprint.Identifier, error) {
	dir, err := cfg.CatalogDir()
	if err != nil {
		return nil, err
	}
	catalog, err := voiceprint.Open(dir, log)
	if err != nil {
		return nil, err
	}
	extractor, err := tk.NewEmbeddingExtractor(inference.SpeakerEmbeddingConfig{
		Model:      cfg.Speaker.Model,
		NumThreads: cfg.Recognizer.NumThreads,
		Provider:   cfg.Recognizer.Provider,
	})
	if err != nil {
		return nil, err
	}
	return voiceprint.NewIdentifier(voiceprint.IdentifierConfig{
		Threshold: cfg.Speaker.Threshold,
		AutoTrack: cfg.Speaker.AutoTrack,
	}, extractor, voiceprint.NewManager(extractor.Dim()), nil, catalog, log)
}

// speakerAdapter narrows the voiceprint identifier to what engines need.
type speakerAdapter struct {
	id *voiceprint.Identifier
}

func (a speakerAdapter) Identify(samples []int16) (asr.Speaker, bool) {
	res, ok := a.id.ProcessSegment(samples)
	if !ok {
		return asr.Speaker{}, false
	}
	return asr.Speaker{ID: res.SpeakerID, Name: res.SpeakerName, Confidence: res.Confidence}, true
}

// ListenAndServe listens on the configured address and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.log.Info("server: listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve accepts connections from ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{Handler: s}
	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP upgrades one WebSocket connection and runs its read loop.
// Non-WebSocket requests get a 400 from the upgrader.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("server: upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	if s.closed || len(s.conns) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		s.log.Warn("server: connection limit reached", "remote", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Too many connections")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		ws.Close()
		return
	}
	c := newConn(s, ws)
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.log.Info("server: connection open", "remote", r.RemoteAddr)
	go c.writeLoop()
	c.readLoop()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// submit hands a task to the worker pool, blocking when every worker is
// busy and the queue is full. That backpressure lands on the submitting
// connection's reader only.
func (s *Server) submit(f func()) {
	select {
	case s.work <- f:
	case <-s.stop:
	}
}

func (s *Server) worker() {
	defer s.workerWG.Done()
	for {
		var f func()
		select {
		case <-s.stop:
			return
		case f = <-s.work:
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("server: worker task panicked", "panic", r)
				}
			}()
			f()
		}()
	}
}

// sweep closes idle sessions once per second.
func (s *Server) sweep() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	connTimeout := time.Duration(s.cfg.ConnectionTimeoutSeconds) * time.Second
	recogTimeout := time.Duration(s.cfg.RecognitionTimeoutSeconds) * time.Second

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			idle := time.Since(c.sess.LastActivity())
			if idle > connTimeout || (c.sess.State() == StateProcessing && idle > recogTimeout) {
				s.log.Info("server: closing idle session", "session", c.sess.ID(), "idle", idle)
				c.sess.Close("Connection timeout")
			}
		}
	}
}

// Shutdown stops accepting, closes every live session with best-effort
// terminal events, and joins the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.stop)
	<-s.sweepDone

	for _, c := range conns {
		c.sess.Close("Server shutting down")
	}

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.workerWG.Wait()

	if s.speakerID != nil {
		if cerr := s.speakerID.Close(); cerr != nil {
			s.log.Warn("server: close speaker identifier", "error", cerr)
		}
	}
	if s.punctuator != nil {
		s.punctuator.Close()
	}
	return err
}
