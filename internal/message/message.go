// Package message defines the envelope exchanged between nodes.
//
// A Message is immutable once sent; a duplicate is a value copy with the
// Duplicate flag set. TimedMessage adds a timestamp plus the optional
// multicast and mutual-exclusion metadata.
package message

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/msgpass/internal/clock"
)

// KindMulticast is the reserved kind for group multicast traffic.
const KindMulticast = "multicast"

// KindLog is the kind of marker messages shipped to the log collector.
const KindLog = "log"

// MarkSequence is the sentinel sequence number of out-of-band marks.
const MarkSequence int64 = math.MaxInt32

// Message is the plain envelope.
type Message struct {
	Source      string `json:"src"`
	Destination string `json:"dest"`
	Kind        string `json:"kind"`
	Seq         int64  `json:"seq"`
	Duplicate   bool   `json:"dup,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
}

// MutexCommand tags mutual-exclusion traffic.
type MutexCommand string

const (
	MutexNone    MutexCommand = ""
	MutexRequest MutexCommand = "REQUEST"
	MutexRelease MutexCommand = "RELEASE"
	MutexReply   MutexCommand = "REPLY"
)

// MulticastMeta identifies one multicast: who originated it, to which
// group, and the originator's multicast sequence number.
type MulticastMeta struct {
	Multicaster string `json:"multicaster"`
	Group       string `json:"group"`
	Seq         int64  `json:"seq"`
}

// MulticastID is the structured dedup key of a multicast.
type MulticastID struct {
	Multicaster string
	Group       string
	Seq         int64
}

func (id MulticastID) String() string {
	return fmt.Sprintf("%s/%s#%d", id.Multicaster, id.Group, id.Seq)
}

// TimedMessage is a Message with logical time and optional metadata.
type TimedMessage struct {
	Message
	Timestamp clock.Timestamp `json:"ts"`
	Multicast *MulticastMeta  `json:"mcast,omitempty"`
	Mutex     MutexCommand    `json:"mutex,omitempty"`
}

// IsMulticast reports whether m carries the reserved multicast kind.
func (m TimedMessage) IsMulticast() bool {
	return m.Kind == KindMulticast
}

// MulticastID returns the dedup identity of a multicast message.
// Malformed metadata is a protocol error.
func (m TimedMessage) MulticastID() (MulticastID, error) {
	if m.Multicast == nil {
		return MulticastID{}, fmt.Errorf("multicast from %q has no multicast metadata", m.Source)
	}
	if m.Multicast.Multicaster == "" || m.Multicast.Group == "" {
		return MulticastID{}, fmt.Errorf("multicast from %q has incomplete metadata %+v", m.Source, *m.Multicast)
	}
	return MulticastID{
		Multicaster: m.Multicast.Multicaster,
		Group:       m.Multicast.Group,
		Seq:         m.Multicast.Seq,
	}, nil
}

// Clone returns a deep copy: payload and metadata are not shared.
func (m TimedMessage) Clone() TimedMessage {
	c := m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Multicast != nil {
		meta := *m.Multicast
		c.Multicast = &meta
	}
	return c
}

// AsDuplicate returns a copy flagged as a duplicate.
func (m TimedMessage) AsDuplicate() TimedMessage {
	c := m.Clone()
	c.Duplicate = true
	return c
}

// Body returns the payload as text.
func (m TimedMessage) Body() string {
	return string(m.Payload)
}

// Normalize rewrites every name field to Unicode NFC so that names typed
// on different hosts compare byte-equal.
func (m *TimedMessage) Normalize() {
	m.Source = NormalizeName(m.Source)
	m.Destination = NormalizeName(m.Destination)
	m.Kind = NormalizeName(m.Kind)
	if m.Multicast != nil {
		m.Multicast.Multicaster = NormalizeName(m.Multicast.Multicaster)
		m.Multicast.Group = NormalizeName(m.Multicast.Group)
	}
}

// NormalizeName returns the NFC form of a node, group or kind name.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}

// String renders a multi-line description for operators.
func (m TimedMessage) String() string {
	s := fmt.Sprintf("TimedMessage[ts=%s src=%s dest=%s seq=%d dup=%t kind=%s body=%q",
		m.Timestamp, m.Source, m.Destination, m.Seq, m.Duplicate, m.Kind, m.Body())
	if m.Multicast != nil {
		s += fmt.Sprintf(" mcast=%s/%s#%d", m.Multicast.Multicaster, m.Multicast.Group, m.Multicast.Seq)
	}
	if m.Mutex != MutexNone {
		s += " mutex=" + string(m.Mutex)
	}
	return s + "]"
}

// MulticastBody is the descriptive text used when a multicast has no body.
func MulticastBody(source, group string, seq int64) []byte {
	return []byte(fmt.Sprintf("Multicast from %s to %s MulticastSequenceNumber %d", source, group, seq))
}
