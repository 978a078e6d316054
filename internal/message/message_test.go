package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/clock"
)

func sampleMulticast() TimedMessage {
	return TimedMessage{
		Message: Message{
			Source:      "alice",
			Destination: "bob",
			Kind:        KindMulticast,
			Seq:         3,
			Payload:     []byte("hello"),
		},
		Timestamp: clock.Vector(1, 0, 0),
		Multicast: &MulticastMeta{Multicaster: "alice", Group: "g1", Seq: 2},
	}
}

func TestTimedMessage_MulticastID(t *testing.T) {
	m := sampleMulticast()
	id, err := m.MulticastID()
	require.NoError(t, err)
	assert.Equal(t, MulticastID{Multicaster: "alice", Group: "g1", Seq: 2}, id)
	assert.Equal(t, "alice/g1#2", id.String())
}

func TestTimedMessage_MulticastID_Malformed(t *testing.T) {
	m := sampleMulticast()
	m.Multicast = nil
	_, err := m.MulticastID()
	assert.Error(t, err)

	m = sampleMulticast()
	m.Multicast.Group = ""
	_, err = m.MulticastID()
	assert.Error(t, err)
}

func TestTimedMessage_AsDuplicate(t *testing.T) {
	m := sampleMulticast()
	dup := m.AsDuplicate()

	assert.True(t, dup.Duplicate)
	assert.False(t, m.Duplicate, "original must be untouched")

	// Only the flag differs.
	dup.Duplicate = false
	assert.Equal(t, m, dup)
}

func TestTimedMessage_CloneIsDeep(t *testing.T) {
	m := sampleMulticast()
	c := m.Clone()
	c.Payload[0] = 'X'
	c.Multicast.Seq = 99

	assert.Equal(t, "hello", m.Body())
	assert.Equal(t, int64(2), m.Multicast.Seq)
}

func TestTimedMessage_JSONRoundTrip(t *testing.T) {
	m := sampleMulticast()
	m.Mutex = MutexRequest

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var got TimedMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, m.Message, got.Message)
	assert.True(t, m.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, *m.Multicast, *got.Multicast)
	assert.Equal(t, MutexRequest, got.Mutex)
}

func TestNormalize(t *testing.T) {
	// "e" followed by a combining acute accent normalizes to U+00E9.
	m := TimedMessage{Message: Message{Source: "Jose\u0301", Kind: "ping"}}
	m.Normalize()
	assert.Equal(t, "Jos\u00e9", m.Source)
}

func TestMulticastBody(t *testing.T) {
	assert.Equal(t, "Multicast from alice to g1 MulticastSequenceNumber 4",
		string(MulticastBody("alice", "g1", 4)))
}
