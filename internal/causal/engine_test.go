package causal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/clock"
	"github.com/roach88/msgpass/internal/message"
)

var processes = []string{"A", "B", "C"}

func newEngine(t *testing.T, self string) *Engine {
	t.Helper()
	e, err := New(self, processes, map[string][]string{
		"g":     {"A", "B", "C"},
		"pair":  {"A", "B"},
		"other": {"B"},
	})
	require.NoError(t, err)
	return e
}

// mcast builds a multicast as received from source, originated by
// multicaster with multicast sequence mseq.
func mcast(source, multicaster string, mseq int64, ts ...int64) message.TimedMessage {
	return message.TimedMessage{
		Message: message.Message{
			Source: source,
			Kind:   message.KindMulticast,
			Seq:    mseq,
		},
		Timestamp: clock.Vector(ts...),
		Multicast: &message.MulticastMeta{Multicaster: multicaster, Group: "g", Seq: mseq},
	}
}

func ids(t *testing.T, msgs []message.TimedMessage) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		id, err := m.MulticastID()
		require.NoError(t, err)
		out[i] = id.String()
	}
	return out
}

func TestNew_Errors(t *testing.T) {
	_, err := New("Z", processes, nil)
	assert.Error(t, err, "local process must be listed")

	_, err = New("A", []string{"A", "A"}, nil)
	assert.Error(t, err, "duplicate process names")

	_, err = New("A", processes, map[string][]string{"g": {"A", "Q"}})
	assert.Error(t, err, "unknown member")
}

func TestReceive_OwnMulticastDeliveredDirectly(t *testing.T) {
	e := newEngine(t, "A")

	ts, err := e.Stamp("g")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0, 0}, ts.Components())

	res, err := e.Receive(mcast("A", "A", 1, ts.Components()...))
	require.NoError(t, err)
	assert.Equal(t, []string{"A/g#1"}, ids(t, res.Delivered))
	assert.Empty(t, res.Forward, "a node never re-broadcasts its own multicast")
	assert.Equal(t, 0, e.Held("g"))
}

func TestReceive_InOrderDeliversAndForwards(t *testing.T) {
	e := newEngine(t, "C")

	res, err := e.Receive(mcast("A", "A", 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"A/g#1"}, ids(t, res.Delivered))
	assert.Equal(t, []string{"A/g#1"}, ids(t, res.Forward))

	vi, ok := e.GroupClock("g")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 0, 0}, vi.Components())
}

// B multicasts m2 after delivering A's m1. C sees m2 first and must hold
// it until m1 arrives, then deliver both in causal order.
func TestReceive_HoldsUntilPredecessorArrives(t *testing.T) {
	e := newEngine(t, "C")

	res, err := e.Receive(mcast("B", "B", 1, 1, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Delivered)
	assert.Empty(t, res.Forward)
	assert.Equal(t, 1, e.Held("g"))
	assert.Equal(t, 1, e.HeldTotal())

	res, err = e.Receive(mcast("A", "A", 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"A/g#1", "B/g#1"}, ids(t, res.Delivered))
	assert.Equal(t, []string{"A/g#1", "B/g#1"}, ids(t, res.Forward))
	assert.Equal(t, 0, e.Held("g"))

	vi, _ := e.GroupClock("g")
	assert.Equal(t, []int64{1, 1, 0}, vi.Components())
}

func TestReceive_SameSenderGap(t *testing.T) {
	e := newEngine(t, "C")

	res, err := e.Receive(mcast("A", "A", 2, 2, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Delivered, "seq 2 from A waits for seq 1")

	res, err = e.Receive(mcast("B", "A", 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"A/g#1", "A/g#2"}, ids(t, res.Delivered))
}

func TestReceive_DuplicateSuppressed(t *testing.T) {
	e := newEngine(t, "C")

	m := mcast("A", "A", 1, 1, 0, 0)
	_, err := e.Receive(m)
	require.NoError(t, err)

	// Forwarded copy from B and a fault-injected duplicate are both ignored.
	fwd := m.Clone()
	fwd.Source = "B"
	res, err := e.Receive(fwd)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.Delivered)

	res, err = e.Receive(m.AsDuplicate())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestReceive_HeldDuplicateIsNotHeldTwice(t *testing.T) {
	e := newEngine(t, "C")

	m2 := mcast("B", "B", 1, 1, 1, 0)
	_, err := e.Receive(m2)
	require.NoError(t, err)
	res, err := e.Receive(m2.AsDuplicate())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1, e.Held("g"))
}

func TestReceive_MalformedLeavesStateUntouched(t *testing.T) {
	e := newEngine(t, "C")

	noMeta := mcast("A", "A", 1, 1, 0, 0)
	noMeta.Multicast = nil
	_, err := e.Receive(noMeta)
	assert.Error(t, err)

	logical := mcast("A", "A", 1)
	logical.Timestamp = clock.Logical(1)
	_, err = e.Receive(logical)
	assert.Error(t, err)

	short := mcast("A", "A", 1, 1, 0)
	_, err = e.Receive(short)
	assert.Error(t, err)

	unknown := mcast("A", "Q", 1, 1, 0, 0)
	_, err = e.Receive(unknown)
	assert.Error(t, err)

	foreign := mcast("A", "A", 1, 1, 0, 0)
	foreign.Multicast.Group = "pair"
	_, err = e.Receive(foreign)
	assert.Error(t, err, "C is not a member of pair")

	missing := mcast("A", "A", 1, 1, 0, 0)
	missing.Multicast.Group = "nope"
	_, err = e.Receive(missing)
	assert.Error(t, err)

	// None of the failures recorded the identity.
	res, err := e.Receive(mcast("A", "A", 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Len(t, res.Delivered, 1)
}

func TestStamp_Errors(t *testing.T) {
	e := newEngine(t, "A")
	_, err := e.Stamp("other")
	assert.Error(t, err, "A is not in other")
	_, err = e.Stamp("nope")
	assert.Error(t, err)
}

func TestMembersAndGroups(t *testing.T) {
	e := newEngine(t, "A")
	members, ok := e.Members("pair")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, members)
	assert.True(t, e.IsMember("g"))
	assert.False(t, e.IsMember("other"))
	assert.Equal(t, []string{"g", "other", "pair"}, e.Groups())

	_, ok = e.Members("nope")
	assert.False(t, ok)
}

// Any arrival order, with duplicates, yields exactly-once delivery that
// respects causality.
func TestReceive_RandomArrivalOrder(t *testing.T) {
	history := []message.TimedMessage{
		mcast("A", "A", 1, 1, 0, 0),
		mcast("A", "A", 2, 2, 0, 0),
		mcast("B", "B", 1, 2, 1, 0), // B delivered A#1 and A#2 first
		mcast("A", "A", 3, 3, 0, 0), // concurrent with B#1
		mcast("B", "B", 2, 2, 2, 0),
	}
	// precedes[x] lists what must be delivered before x.
	precedes := map[string][]string{
		"A/g#2": {"A/g#1"},
		"A/g#3": {"A/g#2"},
		"B/g#1": {"A/g#1", "A/g#2"},
		"B/g#2": {"B/g#1"},
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		e := newEngine(t, "C")
		var arrivals []message.TimedMessage
		for _, m := range history {
			arrivals = append(arrivals, m)
			if rng.Intn(2) == 0 {
				arrivals = append(arrivals, m.AsDuplicate())
			}
		}
		rng.Shuffle(len(arrivals), func(i, j int) { arrivals[i], arrivals[j] = arrivals[j], arrivals[i] })

		var delivered []string
		for _, m := range arrivals {
			res, err := e.Receive(m)
			require.NoError(t, err)
			delivered = append(delivered, ids(t, res.Delivered)...)
		}

		require.Len(t, delivered, len(history), "round %d: %v", round, delivered)
		pos := make(map[string]int)
		for i, id := range delivered {
			_, dup := pos[id]
			require.False(t, dup, "round %d: %s delivered twice", round, id)
			pos[id] = i
		}
		for id, before := range precedes {
			for _, b := range before {
				require.Less(t, pos[b], pos[id], "round %d: %s must precede %s", round, b, id)
			}
		}
		require.Equal(t, 0, e.Held("g"))
	}
}
