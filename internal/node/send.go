package node

import (
	"context"

	"github.com/roach88/msgpass/internal/fault"
	"github.com/roach88/msgpass/internal/message"
)

// markBody is the payload of marker messages.
const markBody = "Mark"

// Send transmits an ordinary message to dest.
//
// The main clock ticks once and the message takes the next sequence
// number. With log set, a copy carrying the same timestamp is shipped to
// the log collector. Transport failures are logged, not returned.
func (s *Session) Send(ctx context.Context, dest, kind string, body []byte, log bool) (message.TimedMessage, error) {
	dest = message.NormalizeName(dest)
	kind = message.NormalizeName(kind)
	if !s.known[dest] {
		return message.TimedMessage{}, newError(CodeUnknownDestination, nil, "no node named %q", dest)
	}
	if kind == message.KindMulticast {
		return message.TimedMessage{}, newError(CodeProtocol, nil, "kind %q is reserved", kind)
	}

	s.mu.Lock()
	m := s.stampLocked(dest, kind, body)
	s.mu.Unlock()

	s.transmit(ctx, []outbound{{peer: dest, msg: m}})
	if log {
		s.shipLog(ctx, m)
	}
	return m, nil
}

// Multicast sends body to every member of group with causal ordering.
// An empty body is replaced by a descriptive text naming the multicast.
func (s *Session) Multicast(ctx context.Context, group string, body []byte, log bool) (message.TimedMessage, error) {
	group = message.NormalizeName(group)

	s.mu.Lock()
	m, err := s.multicastLocked(group, message.MutexNone, body)
	out := s.takeOutbox()
	held := s.engine.HeldTotal()
	s.mu.Unlock()
	if err != nil {
		return message.TimedMessage{}, err
	}

	s.metrics.HeldMessages(held)
	s.transmit(ctx, out)
	if log {
		c := m.Clone()
		c.Destination = group
		s.shipLog(ctx, c)
	}
	return m, nil
}

// RequestCriticalSection asks the mutual-exclusion group for permission.
// The node is in the critical section once MutexStatus reports HELD.
func (s *Session) RequestCriticalSection(ctx context.Context) error {
	return s.mutexCommand(ctx, message.MutexRequest)
}

// ReleaseCriticalSection leaves the critical section.
func (s *Session) ReleaseCriticalSection(ctx context.Context) error {
	return s.mutexCommand(ctx, message.MutexRelease)
}

func (s *Session) mutexCommand(ctx context.Context, cmd message.MutexCommand) error {
	s.mu.Lock()
	err := s.mutexCommandLocked(cmd)
	out := s.takeOutbox()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.transmit(ctx, out)
	return nil
}

func (s *Session) mutexCommandLocked(cmd message.MutexCommand) error {
	if s.coord == nil {
		return newError(CodeUnknownGroup, nil, "node %s has no mutual-exclusion group", s.name)
	}
	if s.logical {
		return newError(CodeClockMode, nil, "mutual exclusion needs a vector clock")
	}

	var err error
	if cmd == message.MutexRequest {
		err = s.coord.Request()
	} else {
		err = s.coord.Release()
	}
	if err != nil {
		return newError(CodeInvalidTransition, err, "%s", cmd)
	}
	s.logger.Info("mutual exclusion", "command", string(cmd), "state", s.coord.State().String())

	_, err = s.multicastLocked(s.coord.Group(), cmd, []byte(cmd))
	return err
}

// Mark ticks the main clock and ships a marker to the log collector only.
func (s *Session) Mark(ctx context.Context) (message.TimedMessage, error) {
	if s.logSink == nil {
		return message.TimedMessage{}, newError(CodeUnknownDestination, nil, "no log collector configured")
	}
	s.mu.Lock()
	m := message.TimedMessage{
		Message: message.Message{
			Source:      s.name,
			Destination: LoggerDestination,
			Kind:        message.KindLog,
			Seq:         message.MarkSequence,
			Payload:     []byte(markBody),
		},
		Timestamp: s.clock.Tick(),
	}
	s.mu.Unlock()

	s.shipLog(ctx, m)
	return m, nil
}

// stampLocked builds an ordinary message with a fresh tick and sequence
// number. Caller must hold s.mu.
func (s *Session) stampLocked(dest, kind string, body []byte) message.TimedMessage {
	return message.TimedMessage{
		Message: message.Message{
			Source:      s.name,
			Destination: dest,
			Kind:        kind,
			Seq:         s.nextSeq(),
			Payload:     body,
		},
		Timestamp: s.clock.Tick(),
	}
}

// multicastLocked originates a multicast: it stamps the group clock once,
// delivers the local copy in place and queues one copy per other member.
// Caller must hold s.mu.
func (s *Session) multicastLocked(group string, cmd message.MutexCommand, body []byte) (message.TimedMessage, error) {
	if s.logical {
		return message.TimedMessage{}, newError(CodeClockMode, nil, "multicast needs a vector clock")
	}
	members, ok := s.engine.Members(group)
	if !ok {
		return message.TimedMessage{}, newError(CodeUnknownGroup, nil, "no group named %q", group)
	}
	if !s.engine.IsMember(group) {
		return message.TimedMessage{}, newError(CodeNotAMember, nil, "%s is not a member of %q", s.name, group)
	}

	ts, err := s.engine.Stamp(group)
	if err != nil {
		return message.TimedMessage{}, newError(CodeProtocol, err, "stamp multicast to %q", group)
	}
	seq := s.nextSeq()
	if len(body) == 0 {
		body = message.MulticastBody(s.name, group, seq)
	}
	m := message.TimedMessage{
		Message: message.Message{
			Source:      s.name,
			Destination: s.name,
			Kind:        message.KindMulticast,
			Seq:         seq,
			Payload:     body,
		},
		Timestamp: ts,
		Multicast: &message.MulticastMeta{Multicaster: s.name, Group: group, Seq: seq},
		Mutex:     cmd,
	}

	res, err := s.engine.Receive(m)
	if err != nil {
		return message.TimedMessage{}, newError(CodeProtocol, err, "deliver own multicast")
	}
	s.applyLocked(res)

	for _, member := range members {
		if member == s.name {
			continue
		}
		c := m.Clone()
		c.Destination = member
		s.outbox = append(s.outbox, outbound{peer: member, msg: c})
	}
	return m, nil
}

// transmit runs a batch through the send path in order.
func (s *Session) transmit(ctx context.Context, batch []outbound) {
	if len(batch) == 0 {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for _, o := range batch {
		s.sendOne(ctx, o)
	}
}

// sendOne applies the send rules to o. A message that is transmitted
// (and its duplicate, if any) is followed by every message parked in the
// send delay buffer, in FIFO order and without rule re-evaluation.
// Caller must hold s.sendMu.
func (s *Session) sendOne(ctx context.Context, o outbound) {
	rule, matched := s.sendRules.Match(o.msg.Message)
	duplicate := false
	if matched {
		s.metrics.FaultAction("send", rule.Action)
		switch rule.Action {
		case fault.ActionDrop:
			s.logger.Info("message dropped at sender", "dest", o.peer, "kind", o.msg.Kind, "seq", o.msg.Seq, "rule", rule.String())
			return
		case fault.ActionDelay:
			s.logger.Info("message delayed at sender", "dest", o.peer, "kind", o.msg.Kind, "seq", o.msg.Seq, "rule", rule.String())
			s.sendDelayed.Push(o)
			return
		case fault.ActionDuplicate:
			s.logger.Info("message duplicated at sender", "dest", o.peer, "kind", o.msg.Kind, "seq", o.msg.Seq, "rule", rule.String())
			duplicate = true
		}
	}

	s.write(ctx, o)
	if duplicate {
		s.write(ctx, outbound{peer: o.peer, msg: o.msg.AsDuplicate()})
	}
	for {
		d, ok := s.sendDelayed.Pop()
		if !ok {
			break
		}
		s.write(ctx, d)
	}
}

// write hands one message to the transport. Failures are logged and
// counted; the message is lost.
func (s *Session) write(ctx context.Context, o outbound) {
	if err := s.transport.Send(ctx, o.peer, o.msg); err != nil {
		s.metrics.TransportError()
		s.logger.Warn("send failed", "peer", o.peer, "kind", o.msg.Kind, "seq", o.msg.Seq, "error", err)
		return
	}
	s.sent.Add(1)
	s.metrics.MessageSent(o.msg.Kind)
	s.logger.Debug("sent", "peer", o.peer, "kind", o.msg.Kind, "seq", o.msg.Seq, "ts", o.msg.Timestamp.String())
}

// shipLog sends a copy to the log collector. Failure is reported and
// swallowed.
func (s *Session) shipLog(ctx context.Context, m message.TimedMessage) {
	if s.logSink == nil {
		s.logger.Warn("no log collector configured; log copy not sent", "seq", m.Seq)
		return
	}
	if err := s.logSink.Log(ctx, m); err != nil {
		s.metrics.TransportError()
		s.logger.Warn("couldn't reach the log collector; log copy not sent", "error", err)
	}
}
