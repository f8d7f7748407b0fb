package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Resolver maps a worker id to a dialable address. The master's global
// partition-assignment / membership view (out of scope per spec.md §1)
// owns the truth; the client just needs a way to ask it.
type Resolver func(workerID uint32) (addr string, err error)

// ClientConfig configures the framed RPC client of spec.md §4.5.
type ClientConfig struct {
	LocalWorkerID          uint32
	Resolve                Resolver
	MaxOutstandingPerPeer  int // backpressure window, MAX_OUTSTANDING_REQUESTS_PER_PEER
	MaxAttempts            int // retry attempts per request before the destination is marked unreachable
	BaseBackoff            time.Duration
	Log                    *logrus.Entry
	// OnFatal is invoked once a destination exhausts its retry budget —
	// spec.md §4.7: "surface a fatal worker error to the superstep
	// controller and abort the job".
	OnFatal func(workerID uint32, err error)
}

// Client is the connection-pooled, framed RPC client. One Client serves
// every peer this worker talks to.
type Client struct {
	cfg ClientConfig
	wg  sync.WaitGroup // outstanding-request counter; waitAllRequests blocks on it

	mu            sync.Mutex
	peers         map[uint32]*peerClient
	nextRequestID atomic.Uint64
}

// NewClient constructs a Client. cfg.MaxOutstandingPerPeer and
// cfg.MaxAttempts default to sane values if left zero.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxOutstandingPerPeer <= 0 {
		cfg.MaxOutstandingPerPeer = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 50 * time.Millisecond
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{cfg: cfg, peers: make(map[uint32]*peerClient)}
}

func (c *Client) peerFor(workerID uint32) *peerClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[workerID]
	if !ok {
		p = &peerClient{
			workerID: workerID,
			client:   c,
			log:      c.cfg.Log.WithField("peer", workerID),
			sem:      make(chan struct{}, c.cfg.MaxOutstandingPerPeer),
			pending:  make(map[uint64]bool),
		}
		c.peers[workerID] = p
	}
	return p
}

// SendWritableRequest enqueues a request to destWorkerID and returns
// promptly (spec.md §4.5). The request is delivered in order relative to
// every other request this client has sent to the same destination.
func (c *Client) SendWritableRequest(destWorkerID uint32, typ RequestType, payload []byte) error {
	reqID := c.nextRequestID.Add(1)
	h := Header{Type: typ, RequestID: reqID, SourceWorkerID: c.cfg.LocalWorkerID}
	return c.peerFor(destWorkerID).send(h, payload)
}

// WaitAllRequests blocks until every enqueued request across every
// destination has been acknowledged.
func (c *Client) WaitAllRequests() {
	c.wg.Wait()
}

// peerClient owns one destination worker's connection, outstanding window,
// and pending-ack bookkeeping.
type peerClient struct {
	workerID uint32
	client   *Client
	log      *logrus.Entry

	connMu sync.Mutex
	conn   net.Conn

	writeMu sync.Mutex // serializes writes to the wire -> FIFO per destination
	sem     chan struct{}

	pendingMu sync.Mutex
	pending   map[uint64]bool

	unreachable atomic.Bool
}

func (p *peerClient) send(h Header, payload []byte) error {
	if p.unreachable.Load() {
		return fmt.Errorf("rpc: peer %d marked unreachable", p.workerID)
	}

	p.sem <- struct{}{}

	p.client.wg.Add(1)
	p.pendingMu.Lock()
	p.pending[h.RequestID] = true
	p.pendingMu.Unlock()

	if err := p.writeWithRetry(h, payload); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, h.RequestID)
		p.pendingMu.Unlock()
		<-p.sem
		p.client.wg.Done()
		p.unreachable.Store(true)
		if p.client.cfg.OnFatal != nil {
			p.client.cfg.OnFatal(p.workerID, err)
		}
		return err
	}
	return nil
}

// writeWithRetry retries per-request on network errors with exponential
// backoff up to cfg.MaxAttempts, reusing the same request id each attempt
// so the server's at-most-once dedup discards duplicates (spec.md §4.5,
// §4.7).
func (p *peerClient) writeWithRetry(h Header, payload []byte) error {
	var lastErr error
	backoff := p.client.cfg.BaseBackoff
	for attempt := 0; attempt < p.client.cfg.MaxAttempts; attempt++ {
		conn, err := p.ensureConn()
		if err == nil {
			p.writeMu.Lock()
			err = WriteFrame(conn, h, payload)
			p.writeMu.Unlock()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		p.log.WithError(err).WithField("attempt", attempt+1).Warn("rpc write failed, retrying")
		p.resetConn()
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("rpc: exhausted %d attempts to peer %d: %w", p.client.cfg.MaxAttempts, p.workerID, lastErr)
}

func (p *peerClient) ensureConn() (net.Conn, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	addr, err := p.client.cfg.Resolve(p.workerID)
	if err != nil {
		return nil, fmt.Errorf("rpc: resolve worker %d: %w", p.workerID, err)
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial worker %d at %s: %w", p.workerID, addr, err)
	}
	p.conn = conn
	go p.readAcks(conn)
	return conn, nil
}

func (p *peerClient) resetConn() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// readAcks drains TypeAck frames from conn, resolving the matching pending
// request and releasing its outstanding-window slot.
func (p *peerClient) readAcks(conn net.Conn) {
	for {
		h, _, err := ReadFrame(conn)
		if err != nil {
			p.log.WithError(err).Debug("rpc ack stream closed")
			return
		}
		if h.Type != TypeAck {
			continue
		}
		p.pendingMu.Lock()
		_, ok := p.pending[h.RequestID]
		if ok {
			delete(p.pending, h.RequestID)
		}
		p.pendingMu.Unlock()
		if !ok {
			// Duplicate or stale ack; the slot was already released.
			continue
		}
		<-p.sem
		p.client.wg.Done()
	}
}
