package node

import (
	"context"

	"github.com/roach88/msgpass/internal/causal"
	"github.com/roach88/msgpass/internal/fault"
	"github.com/roach88/msgpass/internal/message"
	"github.com/roach88/msgpass/internal/mutex"
)

// HandleIncoming runs one decoded message through the receive path:
//
//  1. Receive rules: drop discards it, delay parks it in the receive delay
//     buffer, duplicate processes a flagged copy after the original.
//  2. Multicasts go to the causal engine; ordinary messages merge their
//     timestamp into the main clock and are delivered immediately.
//  3. Messages parked by earlier delay rules are flushed in FIFO order,
//     each routed by kind, without re-evaluating rules.
//
// Any forwards or REPLY messages produced are transmitted after the
// session lock is released. A protocol error discards only the offending
// message.
func (s *Session) HandleIncoming(ctx context.Context, m message.TimedMessage) error {
	m = m.Clone()
	m.Normalize()

	s.mu.Lock()
	err := s.receiveLocked(m)
	out := s.takeOutbox()
	held := s.engine.HeldTotal()
	s.mu.Unlock()

	s.metrics.HeldMessages(held)
	s.transmit(ctx, out)
	return err
}

func (s *Session) receiveLocked(m message.TimedMessage) error {
	rule, matched := s.recvRules.Match(m.Message)
	duplicate := false
	if matched {
		s.metrics.FaultAction("receive", rule.Action)
		switch rule.Action {
		case fault.ActionDrop:
			s.logger.Info("message dropped at receiver", "src", m.Source, "kind", m.Kind, "seq", m.Seq, "rule", rule.String())
			return nil
		case fault.ActionDelay:
			s.logger.Info("message delayed at receiver", "src", m.Source, "kind", m.Kind, "seq", m.Seq, "rule", rule.String())
			s.recvDelayed.Push(m)
			return nil
		case fault.ActionDuplicate:
			s.logger.Info("message duplicated at receiver", "src", m.Source, "kind", m.Kind, "seq", m.Seq, "rule", rule.String())
			duplicate = true
		}
	}

	err := s.processLocked(m)
	if duplicate {
		if derr := s.processLocked(m.AsDuplicate()); err == nil {
			err = derr
		}
	}

	for {
		d, ok := s.recvDelayed.Pop()
		if !ok {
			break
		}
		if derr := s.processLocked(d); derr != nil {
			s.logger.Warn("delayed message discarded", "src", d.Source, "kind", d.Kind, "error", derr)
		}
	}
	return err
}

// processLocked routes one message past the fault rules.
func (s *Session) processLocked(m message.TimedMessage) error {
	if m.IsMulticast() {
		return s.receiveMulticastLocked(m)
	}
	return s.receiveOrdinaryLocked(m)
}

func (s *Session) receiveOrdinaryLocked(m message.TimedMessage) error {
	if err := s.clock.Merge(m.Timestamp); err != nil {
		return newError(CodeProtocol, err, "message from %s seq %d", m.Source, m.Seq)
	}
	s.deliverLocked(m)
	return nil
}

func (s *Session) receiveMulticastLocked(m message.TimedMessage) error {
	if s.logical {
		return newError(CodeProtocol, nil, "multicast from %s received by a logical-clock node", m.Source)
	}
	res, err := s.engine.Receive(m)
	if err != nil {
		return newError(CodeProtocol, err, "multicast from %s", m.Source)
	}
	if res.Duplicate {
		s.logger.Debug("duplicate multicast suppressed", "src", m.Source, "mcast", m.Multicast.Multicaster, "seq", m.Multicast.Seq)
		return nil
	}
	if len(res.Delivered) == 0 {
		s.logger.Debug("multicast held back", "src", m.Source, "mcast", m.Multicast.Multicaster, "seq", m.Multicast.Seq)
	}
	s.applyLocked(res)
	return nil
}

// applyLocked delivers and forwards the output of the causal engine.
func (s *Session) applyLocked(res causal.Result) {
	for _, d := range res.Delivered {
		s.deliverLocked(d)
	}
	for _, f := range res.Forward {
		s.forwardLocked(f)
	}
}

// forwardLocked re-broadcasts a delivered multicast to every other member
// of its group. The timestamp, metadata and sequence number are reused.
func (s *Session) forwardLocked(m message.TimedMessage) {
	members, _ := s.engine.Members(m.Multicast.Group)
	for _, member := range members {
		if member == s.name {
			continue
		}
		c := m.Clone()
		c.Source = s.name
		c.Destination = member
		c.Duplicate = false
		s.outbox = append(s.outbox, outbound{peer: member, msg: c})
	}
}

// deliverLocked hands m to the application and drives the
// mutual-exclusion coordinator.
func (s *Session) deliverLocked(m message.TimedMessage) {
	if s.queue.Enqueue(m) {
		s.received.Add(1)
		s.metrics.MessageDelivered(m.Kind)
	}
	s.logger.Debug("delivered", "src", m.Source, "kind", m.Kind, "seq", m.Seq, "ts", m.Timestamp.String())

	if s.coord == nil || m.Mutex == message.MutexNone {
		return
	}
	switch m.Mutex {
	case message.MutexRequest:
		if m.Multicast == nil || m.Multicast.Group != s.coord.Group() {
			return
		}
		grant, ok, err := s.coord.OnRequest(mutex.Request{Requester: m.Multicast.Multicaster, Timestamp: m.Timestamp})
		if err != nil {
			s.logger.Warn("request not queued", "requester", m.Multicast.Multicaster, "error", err)
			return
		}
		if ok {
			s.replyLocked(grant)
		} else {
			s.logger.Info("request deferred", "requester", m.Multicast.Multicaster)
		}
	case message.MutexRelease:
		if m.Multicast == nil || m.Multicast.Group != s.coord.Group() {
			return
		}
		if grant, ok := s.coord.OnRelease(); ok {
			s.replyLocked(grant)
		}
	case message.MutexReply:
		if s.coord.OnReply(m.Source) {
			s.logger.Info("entered critical section", "group", s.coord.Group())
		}
	}
}

// replyLocked grants this node's vote. A reply to self is delivered
// in place; a reply to a peer is an ordinary send.
func (s *Session) replyLocked(g mutex.Grant) {
	if g.Requester == s.name {
		reply := message.TimedMessage{
			Message: message.Message{
				Source:      s.name,
				Destination: s.name,
				Kind:        replyKind,
				Seq:         s.nextSeq(),
				Payload:     []byte(replyKind),
			},
			Timestamp: s.clock.Snapshot(),
			Mutex:     message.MutexReply,
		}
		s.deliverLocked(reply)
		return
	}
	reply := s.stampLocked(g.Requester, replyKind, []byte(replyKind))
	reply.Mutex = message.MutexReply
	s.outbox = append(s.outbox, outbound{peer: g.Requester, msg: reply})
}

const replyKind = "REPLY"
