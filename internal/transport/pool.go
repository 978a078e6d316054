package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/roach88/msgpass/internal/message"
)

// DialTimeout bounds connection establishment.
const DialTimeout = 3 * time.Second

type peerConn struct {
	conn net.Conn
	enc  *Encoder
}

// Pool holds one outbound connection per peer.
//
// Thread-safety: Send is safe for concurrent use; writes to all peers are
// serialized by the pool mutex.
type Pool struct {
	mu     sync.Mutex
	addrs  map[string]string
	conns  map[string]*peerConn
	dialer net.Dialer
	logger *slog.Logger
	closed bool
}

// NewPool creates a pool. addrs maps peer names to host:port.
func NewPool(addrs map[string]string, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[string]string, len(addrs))
	for k, v := range addrs {
		cp[k] = v
	}
	return &Pool{
		addrs:  cp,
		conns:  make(map[string]*peerConn),
		dialer: net.Dialer{Timeout: DialTimeout},
		logger: logger,
	}
}

// Send writes m to peer, dialing if there is no cached connection. A failed
// write closes and forgets the connection; the message is not retried.
func (p *Pool) Send(ctx context.Context, peer string, m message.TimedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("send to %s: pool closed", peer)
	}
	pc, err := p.connLocked(ctx, peer)
	if err != nil {
		return err
	}
	if err := pc.enc.Encode(m); err != nil {
		pc.conn.Close()
		delete(p.conns, peer)
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

func (p *Pool) connLocked(ctx context.Context, peer string) (*peerConn, error) {
	if pc, ok := p.conns[peer]; ok {
		return pc, nil
	}
	addr, ok := p.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("send to %s: no address", peer)
	}
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", peer, err)
	}
	p.logger.Info("connected", "peer", peer, "addr", addr)
	pc := &peerConn{conn: conn, enc: NewEncoder(conn)}
	p.conns[peer] = pc
	return pc, nil
}

// Connected reports whether a live cached connection to peer exists.
func (p *Pool) Connected(peer string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[peer]
	return ok
}

// Close closes every cached connection. Later sends fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for peer, pc := range p.conns {
		pc.conn.Close()
		delete(p.conns, peer)
	}
	return nil
}

// Client ships single messages over a fresh connection each time. It is
// the log collector side channel: fire and forget, no retries.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: DialTimeout}
}

// Log opens a connection, writes m and closes.
func (c *Client) Log(ctx context.Context, m message.TimedMessage) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect to log collector %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := NewEncoder(conn).Encode(m); err != nil {
		return fmt.Errorf("write to log collector %s: %w", c.addr, err)
	}
	return nil
}
