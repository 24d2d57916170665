// Package session tracks the reliable sessions of a server (KCP over UDP,
// yamux streams and websockets over TCP) and delivers their messages to the
// game on the tick goroutine.
//
// Reader goroutines never touch hub state. They post membership changes and
// received frames to the dispatch queue, which the tick loop drains while
// waiting for the next frame.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/gamenet/pkg/dispatch"
	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/metrics"
)

// MessageHandler consumes messages on the tick goroutine.
type MessageHandler interface {
	HandleMessage(h *Hub, from *Session, payload []byte)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(h *Hub, from *Session, payload []byte)

// HandleMessage ...
func (f HandlerFunc) HandleMessage(h *Hub, from *Session, payload []byte) {
	f(h, from, payload)
}

// Relay forwards every message to all other sessions.
var Relay = HandlerFunc(func(h *Hub, from *Session, payload []byte) {
	for _, s := range h.Sessions() {
		if s == from {
			continue
		}
		if err := s.Send(payload); err != nil {
			h.logger.VerboseMsg("relaying to session %d: %s", s.ID(), err)
		}
	}
})

// Session is one reliable peer connection.
type Session struct {
	id        uint64
	transport string
	conn      net.Conn
	hub       *Hub

	wmu sync.Mutex
}

// ID ...
func (s *Session) ID() uint64 { return s.id }

// Transport returns "kcp", "yamux" or "ws".
func (s *Session) Transport() string { return s.transport }

// RemoteAddr ...
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Send writes one frame to the peer.
func (s *Session) Send(payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.hub.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeTimeout))
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}

	if err := WriteFrame(s.conn, payload); err != nil {
		return fmt.Errorf("session %d: %w", s.id, err)
	}
	if s.hub.metrics != nil {
		s.hub.metrics.MessagesSent.Inc()
	}
	return nil
}

// Close closes the underlying connection; the reader then detaches it.
func (s *Session) Close() error {
	return s.conn.Close()
}

type message struct {
	from    *Session
	payload []byte
}

// Options configures a Hub.
type Options struct {
	Handler      MessageHandler
	WriteTimeout time.Duration
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// Hub owns the session table.
type Hub struct {
	queue        *dispatch.Queue
	handler      MessageHandler
	writeTimeout time.Duration
	logger       *log.Logger
	metrics      *metrics.Metrics

	nextID atomic.Uint64
	count  atomic.Int64
	live   sync.Map // id -> *Session, for Close only

	// tick goroutine only
	sessions map[uint64]*Session
	order    []uint64
	inbox    []message
}

// NewHub creates a hub posting to q.
func NewHub(q *dispatch.Queue, opts Options) *Hub {
	if opts.Handler == nil {
		opts.Handler = Relay
	}
	return &Hub{
		queue:        q,
		handler:      opts.Handler,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		sessions:     make(map[uint64]*Session),
	}
}

// Attach registers conn as a session and reads frames until it fails. It
// closes conn before returning. A clean EOF returns nil.
func (h *Hub) Attach(conn net.Conn, transport string) error {
	defer conn.Close()

	s := &Session{id: h.nextID.Add(1), transport: transport, conn: conn, hub: h}
	if err := h.post(func() { h.join(s) }); err != nil {
		return fmt.Errorf("session %d join: %w", s.id, err)
	}
	h.live.Store(s.id, s)
	h.count.Add(1)
	if h.metrics != nil {
		h.metrics.ActiveSessions.WithLabelValues(transport).Inc()
	}

	defer func() {
		h.live.Delete(s.id)
		h.count.Add(-1)
		if h.metrics != nil {
			h.metrics.ActiveSessions.WithLabelValues(transport).Dec()
		}
		_ = h.post(func() { h.leave(s) })
	}()

	h.logger.VerboseMsg("Session %d (%s) from %s attached", s.id, transport, conn.RemoteAddr())

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("session %d read: %w", s.id, err)
		}

		if h.metrics != nil {
			h.metrics.MessagesReceived.Inc()
		}
		if err := h.post(func() { h.inbox = append(h.inbox, message{from: s, payload: payload}) }); err != nil {
			return fmt.Errorf("session %d deliver: %w", s.id, err)
		}
	}
}

// post retries while the queue is full so the reader applies backpressure
// instead of losing frames.
func (h *Hub) post(fn func()) error {
	for {
		err := h.queue.Post(fn)
		if !errors.Is(err, dispatch.ErrQueueFull) {
			return err
		}
		if h.metrics != nil {
			h.metrics.QueueOverflows.Inc()
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *Hub) join(s *Session) {
	h.sessions[s.id] = s
	h.order = append(h.order, s.id)
}

func (h *Hub) leave(s *Session) {
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	for i, id := range h.order {
		if id == s.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.logger.VerboseMsg("Session %d (%s) detached", s.id, s.transport)
}

// Tick delivers every queued message to the handler. Tick goroutine only.
func (h *Hub) Tick() int {
	inbox := h.inbox
	h.inbox = nil

	for _, m := range inbox {
		if _, ok := h.sessions[m.from.id]; !ok {
			continue // left before the tick
		}
		h.handler.HandleMessage(h, m.from, m.payload)
	}
	return len(inbox)
}

// Sessions returns sessions in join order. Tick goroutine only.
func (h *Hub) Sessions() []*Session {
	out := make([]*Session, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.sessions[id])
	}
	return out
}

// Count returns the number of attached sessions. Safe from any goroutine.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Close closes every live session connection.
func (h *Hub) Close() {
	h.live.Range(func(_, v any) bool {
		_ = v.(*Session).Close()
		return true
	})
}
