package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/zasr/pkg/asr"
)

// outFrame is one queued outbound action: a text frame, or a normal close
// with a reason.
type outFrame struct {
	data   []byte
	close  bool
	reason string
}

// conn owns one WebSocket connection: a reader loop (the HTTP handler
// goroutine), a writer goroutine draining out, and a per-connection
// binary queue drained through the server's worker pool so frames keep
// their submission order.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	sess *Session

	out      chan outFrame
	done     chan struct{}
	downOnce sync.Once

	qmu       sync.Mutex
	pending   [][]byte
	scheduled bool
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	c := &conn{
		srv:  s,
		ws:   ws,
		out:  make(chan outFrame, 64),
		done: make(chan struct{}),
	}
	var identifier asr.Identifier
	if s.speakerID != nil {
		identifier = speakerAdapter{s.speakerID}
	}
	c.sess = newSession(s.cfg, s.tk, s.punctuator, identifier, c, s.log)
	return c
}

var _ transport = (*conn)(nil)

// SendText posts a text frame to the writer. Frames are dropped once the
// connection is going down.
func (c *conn) SendText(data []byte) {
	select {
	case c.out <- outFrame{data: data}:
	case <-c.done:
	}
}

// CloseNormal posts a normal close frame with the given reason. The
// writer sends it and tears the connection down.
func (c *conn) CloseNormal(reason string) {
	select {
	case c.out <- outFrame{close: true, reason: reason}:
	case <-c.done:
	}
}

// readLoop pumps inbound frames until the connection dies. Text frames
// are handled inline; binary frames go through the worker pool.
func (c *conn) readLoop() {
	defer c.teardown("Connection closed")
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		switch typ {
		case websocket.TextMessage:
			// Let queued audio finish first so a text frame (End) cannot
			// overtake binary frames sent before it.
			for {
				c.qmu.Lock()
				busy := c.scheduled
				c.qmu.Unlock()
				if !busy {
					break
				}
				select {
				case <-c.done:
				case <-c.srv.stop:
				case <-time.After(time.Millisecond):
					continue
				}
				break
			}
			c.sess.HandleText(data)
		case websocket.BinaryMessage:
			c.enqueueBinary(data)
		}
	}
}

// enqueueBinary appends the frame to the connection's queue and schedules
// a drain task unless one is already pending. The single outstanding
// drain task is what serializes binary processing per connection.
func (c *conn) enqueueBinary(data []byte) {
	c.qmu.Lock()
	c.pending = append(c.pending, data)
	schedule := !c.scheduled
	if schedule {
		c.scheduled = true
	}
	c.qmu.Unlock()

	if schedule {
		c.srv.submit(c.drainBinary)
	}
}

func (c *conn) drainBinary() {
	for {
		c.qmu.Lock()
		if len(c.pending) == 0 {
			c.scheduled = false
			c.qmu.Unlock()
			return
		}
		data := c.pending[0]
		c.pending = c.pending[1:]
		c.qmu.Unlock()

		c.sess.HandleBinary(data)
	}
}

// writeLoop is the only goroutine that touches the WebSocket writer.
func (c *conn) writeLoop() {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			if f.close {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, f.reason)
				c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.srv.log.Warn("server: write failed, dropping connection",
					"session", c.sess.ID(), "error", err)
				c.teardown("Connection error")
				return
			}
		}
	}
}

// teardown runs exactly once: stop the writer, unregister, and close the
// session (a no-op if the protocol already closed it).
func (c *conn) teardown(reason string) {
	c.downOnce.Do(func() {
		close(c.done)
		c.srv.removeConn(c)
		c.sess.Close(reason)
	})
}
