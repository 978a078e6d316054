package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/msgpass/internal/causal"
	"github.com/roach88/msgpass/internal/clock"
	"github.com/roach88/msgpass/internal/fault"
	"github.com/roach88/msgpass/internal/message"
	"github.com/roach88/msgpass/internal/mutex"
)

// ErrClosed is returned by Next after the session has shut down and the
// delivery queue is drained.
var ErrClosed = errors.New("session closed")

// LoggerDestination is the destination name of messages shipped to the
// log collector.
const LoggerDestination = "logger"

// Transport delivers one message to a named peer. Implementations own
// connection management; a failed send is reported and never retried.
type Transport interface {
	Send(ctx context.Context, peer string, m message.TimedMessage) error
}

// LogSink ships a copy of a message to the log collector.
type LogSink interface {
	Log(ctx context.Context, m message.TimedMessage) error
}

// Handler processes one decoded inbound message.
type Handler func(ctx context.Context, m message.TimedMessage)

// Inbound is a source of decoded messages, typically a transport server.
// Serve blocks until ctx is cancelled or the source fails.
type Inbound interface {
	Serve(ctx context.Context, handle Handler) error
}

// Metrics receives session counters. The metrics package provides the
// Prometheus implementation.
type Metrics interface {
	MessageSent(kind string)
	MessageDelivered(kind string)
	FaultAction(path string, action fault.Action)
	TransportError()
	HeldMessages(n int)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string) {}
func (nopMetrics) MessageDelivered(string) {}
func (nopMetrics) FaultAction(string, fault.Action) {}
func (nopMetrics) TransportError() {}
func (nopMetrics) HeldMessages(int) {}

// Config describes one node session.
type Config struct {
	// Name is the local node name.
	Name string

	// Processes lists every node in global process-index order.
	Processes []string

	// Groups maps group names to members.
	Groups map[string][]string

	// MutexGroup is the mutual-exclusion group. Empty disables
	// request/release.
	MutexGroup string

	// Logical selects a Lamport clock instead of a vector clock.
	// Multicast and mutual exclusion need vector time.
	Logical bool

	SendRules    []fault.Rule
	ReceiveRules []fault.Rule

	Transport Transport

	// LogSink is optional; without it --log copies and marks are refused.
	LogSink LogSink

	// Metrics is optional.
	Metrics Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// outbound is a message queued for transmission to peer.
type outbound struct {
	peer string
	msg  message.TimedMessage
}

// Session is one node of the testbed.
//
// Thread-safety: all methods are safe for concurrent use. mu is the single
// critical section guarding clocks, the causal engine, the mutual-exclusion
// coordinator and the receive delay buffer. Work done under mu appends
// outbound messages to an outbox that is transmitted after mu is released,
// so network I/O never happens under mu. sendMu serializes the send path
// (send rules, send delay buffer, transport writes) to keep per-peer FIFO.
type Session struct {
	name      string
	index     int
	processes []string
	known     map[string]bool
	logical   bool

	transport Transport
	logSink   LogSink
	metrics   Metrics
	logger    *slog.Logger

	sendRules *fault.Table
	recvRules *fault.Table

	seq      atomic.Int64
	sent     atomic.Int64
	received atomic.Int64

	mu          sync.Mutex
	clock       clock.Clock
	engine      *causal.Engine
	coord       *mutex.Coordinator
	recvDelayed fault.Buffer[message.TimedMessage]
	outbox      []outbound

	sendMu      sync.Mutex
	sendDelayed fault.Buffer[outbound]

	queue *deliveryQueue
}

// New creates a session from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("node %s: transport is required", cfg.Name)
	}
	index := slices.Index(cfg.Processes, cfg.Name)
	if index < 0 {
		return nil, fmt.Errorf("node %s is not in the process list", cfg.Name)
	}
	clk, err := clock.New(cfg.Logical, len(cfg.Processes), index)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.Name, err)
	}
	engine, err := causal.New(cfg.Name, cfg.Processes, cfg.Groups)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.Name, err)
	}

	var coord *mutex.Coordinator
	if cfg.MutexGroup != "" {
		members, ok := engine.Members(cfg.MutexGroup)
		if !ok {
			return nil, fmt.Errorf("node %s: unknown mutual-exclusion group %q", cfg.Name, cfg.MutexGroup)
		}
		coord, err = mutex.New(cfg.Name, cfg.MutexGroup, members)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", cfg.Name, err)
		}
	}

	known := make(map[string]bool, len(cfg.Processes))
	for _, p := range cfg.Processes {
		known[p] = true
	}

	s := &Session{
		name:      cfg.Name,
		index:     index,
		processes: slices.Clone(cfg.Processes),
		known:     known,
		logical:   cfg.Logical,
		transport: cfg.Transport,
		logSink:   cfg.LogSink,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		sendRules: fault.NewTable(cfg.SendRules),
		recvRules: fault.NewTable(cfg.ReceiveRules),
		clock:     clk,
		engine:    engine,
		coord:     coord,
		queue:     newDeliveryQueue(),
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("node", cfg.Name)
	return s, nil
}

// Name returns the local node name.
func (s *Session) Name() string { return s.name }

// SetRules hot-swaps the send and receive rule tables.
func (s *Session) SetRules(send, receive []fault.Rule) {
	s.sendRules.Store(send)
	s.recvRules.Store(receive)
	s.logger.Info("rules replaced", "send", len(send), "receive", len(receive))
}

// Rules returns the current send and receive rules.
func (s *Session) Rules() (send, receive []fault.Rule) {
	return s.sendRules.Load(), s.recvRules.Load()
}

// Run serves inbound messages until ctx is cancelled, then closes the
// delivery queue.
func (s *Session) Run(ctx context.Context, in Inbound) error {
	defer s.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return in.Serve(ctx, s.handle)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle adapts HandleIncoming to the Handler signature. Protocol errors
// are logged; the connection keeps going.
func (s *Session) handle(ctx context.Context, m message.TimedMessage) {
	if err := s.HandleIncoming(ctx, m); err != nil {
		s.logger.Warn("inbound message discarded", "src", m.Source, "kind", m.Kind, "error", err)
	}
}

// Close stops delivery. Messages already queued remain readable via Next.
func (s *Session) Close() {
	s.queue.Close()
}

// Next blocks until a delivered message is available or ctx is done.
// It returns ErrClosed once the session is closed and drained.
func (s *Session) Next(ctx context.Context) (message.TimedMessage, error) {
	for {
		if m, ok := s.queue.TryDequeue(); ok {
			return m, nil
		}
		if s.queue.Closed() {
			return message.TimedMessage{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return message.TimedMessage{}, ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Pending returns the number of delivered messages not yet consumed.
func (s *Session) Pending() int { return s.queue.Len() }

// Timestamps is a snapshot of every clock this node owns.
type Timestamps struct {
	Main   clock.Timestamp
	Groups map[string]clock.Timestamp
}

// Timestamps returns the main clock and every group clock.
func (s *Session) Timestamps() Timestamps {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := Timestamps{Main: s.clock.Snapshot(), Groups: make(map[string]clock.Timestamp)}
	for _, g := range s.engine.Groups() {
		if !s.engine.IsMember(g) {
			continue
		}
		if vc, ok := s.engine.GroupClock(g); ok {
			ts.Groups[g] = vc
		}
	}
	return ts
}

// MutexStatus is the mutual-exclusion view shown by the status command.
type MutexStatus struct {
	Enabled  bool
	Group    string
	Sent     int64
	Received int64
	mutex.Status
}

// MutexStatus returns the coordinator status and message counters.
func (s *Session) MutexStatus() MutexStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := MutexStatus{Sent: s.sent.Load(), Received: s.received.Load()}
	if s.coord != nil {
		st.Enabled = true
		st.Group = s.coord.Group()
		st.Status = s.coord.Status()
	}
	return st
}

// GroupInfo describes one configured group.
type GroupInfo struct {
	Name    string
	Members []string
	Member  bool
}

// Info is static node information shown by the info command.
type Info struct {
	Name    string
	Index   int
	Nodes   int
	Logical bool
	Groups  []GroupInfo
}

// Info returns static node information.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{Name: s.name, Index: s.index, Nodes: len(s.processes), Logical: s.logical}
	for _, g := range s.engine.Groups() {
		members, _ := s.engine.Members(g)
		info.Groups = append(info.Groups, GroupInfo{Name: g, Members: members, Member: s.engine.IsMember(g)})
	}
	return info
}

// takeOutbox returns and clears the pending outbound messages.
// Caller must hold s.mu.
func (s *Session) takeOutbox() []outbound {
	out := s.outbox
	s.outbox = nil
	return out
}

// nextSeq returns the next per-sender sequence number.
func (s *Session) nextSeq() int64 {
	return s.seq.Add(1)
}
