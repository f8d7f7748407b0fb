package rpc

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler processes one request's payload against the worker's server
// data (partition store, message store, mutation buffer, aggregator
// service) and must be safe for concurrent invocation on disjoint keys,
// internally synchronizing on whatever partition/vertex it targets
// (spec.md §4.5).
type Handler func(h Header, payload []byte) error

// ServerConfig configures the framed RPC server of spec.md §4.5.
type ServerConfig struct {
	ListenAddr  string
	DispatchPoolSize int // size of the handler-dispatch worker pool, spec.md §5
	Log         *logrus.Entry
}

// Server is the connection-oriented, framed RPC server. Each registered
// RequestType has exactly one Handler; requests of unregistered types are
// a ProtocolViolation (spec.md §7).
type Server struct {
	cfg      ServerConfig
	handlers map[RequestType]Handler

	mu       sync.Mutex
	seen     map[uint32]map[uint64]bool // (sourceWorkerID, requestID) at-most-once dedup

	dispatch chan func()
	wg       sync.WaitGroup

	listener net.Listener
}

// NewServer constructs a Server. Call RegisterHandler for every
// RequestType before Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.DispatchPoolSize <= 0 {
		cfg.DispatchPoolSize = 8
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		cfg:      cfg,
		handlers: make(map[RequestType]Handler),
		seen:     make(map[uint32]map[uint64]bool),
		dispatch: make(chan func(), cfg.DispatchPoolSize*4),
	}
	for i := 0; i < cfg.DispatchPoolSize; i++ {
		go s.dispatchLoop()
	}
	return s
}

func (s *Server) dispatchLoop() {
	for job := range s.dispatch {
		job()
	}
}

// RegisterHandler binds a Handler to a RequestType.
func (s *Server) RegisterHandler(typ RequestType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = h
}

// Start listens on cfg.ListenAddr and accepts connections until Stop is
// called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener; in-flight handler invocations are allowed to
// complete (spec.md §5: compute/handler calls do not take cancellation
// tokens).
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.cfg.Log.WithError(err).Debug("rpc accept loop stopped")
			return
		}
		go s.serveConn(conn)
	}
}

// serveConn reads frames from one connection sequentially: one TCP
// connection carries one sender's stream, and frames are read and queued to
// the dispatch pool in arrival order. The handlers themselves run on the
// pool, so two frames from the same sender may be handled concurrently or
// finish out of order; handler order is not guaranteed to match send order.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		h, payload, err := ReadFrame(conn)
		if err != nil {
			return
		}
		s.handleFrame(conn, h, payload)
	}
}

func (s *Server) handleFrame(conn net.Conn, h Header, payload []byte) {
	if h.Type == TypeKeepAlive {
		return
	}

	if s.alreadySeen(h.SourceWorkerID, h.RequestID) {
		// At-most-once: a retried request with the same id is discarded
		// but still acked, so the sender's outstanding window frees up.
		s.ack(conn, h)
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[h.Type]
	s.mu.Unlock()
	if !ok {
		s.cfg.Log.WithField("type", h.Type).Error("rpc: protocol violation, unknown request type")
		return
	}

	s.markSeen(h.SourceWorkerID, h.RequestID)
	s.wg.Add(1)
	s.dispatch <- func() {
		defer s.wg.Done()
		if err := handler(h, payload); err != nil {
			s.cfg.Log.WithError(err).WithField("type", h.Type).Error("rpc handler failed")
		}
		s.ack(conn, h)
	}
}

func (s *Server) ack(conn net.Conn, h Header) {
	ackHdr := Header{Type: TypeAck, RequestID: h.RequestID, SourceWorkerID: h.SourceWorkerID}
	if err := WriteFrame(conn, ackHdr, nil); err != nil {
		s.cfg.Log.WithError(err).Debug("rpc: failed to write ack")
	}
}

func (s *Server) alreadySeen(sourceWorkerID uint32, requestID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySource, ok := s.seen[sourceWorkerID]
	if !ok {
		return false
	}
	return bySource[requestID]
}

func (s *Server) markSeen(sourceWorkerID uint32, requestID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySource, ok := s.seen[sourceWorkerID]
	if !ok {
		bySource = make(map[uint64]bool)
		s.seen[sourceWorkerID] = bySource
	}
	bySource[requestID] = true
}

// Wait blocks until every handler invocation dispatched so far has
// completed — used at the FLUSH_REQUESTS/BARRIER boundary before this
// worker reports its own counts.
func (s *Server) Wait() {
	s.wg.Wait()
}
