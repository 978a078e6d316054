package fault

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/message"
)

func msg(src, dest, kind string, seq int64, dup bool) message.Message {
	return message.Message{Source: src, Destination: dest, Kind: kind, Seq: seq, Duplicate: dup}
}

func TestRule_Matches(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		msg  message.Message
		want bool
	}{
		{"wildcard matches all", Rule{Action: ActionDrop}, msg("a", "b", "ping", 1, false), true},
		{"dest and kind match", Rule{Action: ActionDrop, Dest: String("b"), Kind: String("ping")}, msg("a", "b", "ping", 1, false), true},
		{"kind differs", Rule{Action: ActionDrop, Dest: String("b"), Kind: String("ping")}, msg("a", "b", "pong", 1, false), false},
		{"src differs", Rule{Action: ActionDrop, Src: String("c")}, msg("a", "b", "ping", 1, false), false},
		{"seq matches", Rule{Action: ActionDelay, Seq: Int(4)}, msg("a", "b", "ping", 4, false), true},
		{"seq differs", Rule{Action: ActionDelay, Seq: Int(4)}, msg("a", "b", "ping", 5, false), false},
		{"duplicate flag matches", Rule{Action: ActionDrop, Duplicate: Bool(true)}, msg("a", "b", "ping", 1, true), true},
		{"duplicate flag differs", Rule{Action: ActionDrop, Duplicate: Bool(true)}, msg("a", "b", "ping", 1, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.msg))
		})
	}
}

func TestMatch_FirstWins(t *testing.T) {
	rules := []Rule{
		{Action: ActionDelay, Kind: String("pong")},
		{Action: ActionDrop, Dest: String("b")},
		{Action: ActionDuplicate},
	}

	r, ok := Match(msg("a", "b", "pong", 1, false), rules)
	require.True(t, ok)
	assert.Equal(t, ActionDelay, r.Action)

	r, ok = Match(msg("a", "b", "ping", 1, false), rules)
	require.True(t, ok)
	assert.Equal(t, ActionDrop, r.Action)

	r, ok = Match(msg("a", "c", "ping", 1, false), rules)
	require.True(t, ok)
	assert.Equal(t, ActionDuplicate, r.Action)
}

func TestMatch_NoRules(t *testing.T) {
	_, ok := Match(msg("a", "b", "ping", 1, false), nil)
	assert.False(t, ok)
}

func TestMatch_Deterministic(t *testing.T) {
	rules := []Rule{
		{Action: ActionDrop, Dest: String("b"), Kind: String("ping")},
		{Action: ActionDelay},
	}
	m := msg("a", "b", "ping", 2, false)
	first, _ := Match(m, rules)
	for i := 0; i < 100; i++ {
		got, ok := Match(m, rules)
		require.True(t, ok)
		require.Equal(t, first, got)
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("Drop")
	require.NoError(t, err)
	assert.Equal(t, ActionDrop, a)

	_, err = ParseAction("explode")
	assert.Error(t, err)
}

func TestTable_StoreIsolation(t *testing.T) {
	rules := []Rule{{Action: ActionDrop}}
	tbl := NewTable(rules)

	// Mutating the caller's slice must not affect the table.
	rules[0].Action = ActionDelay
	assert.Equal(t, ActionDrop, tbl.Load()[0].Action)

	tbl.Store(nil)
	_, ok := tbl.Match(msg("a", "b", "ping", 1, false))
	assert.False(t, ok)
}

func TestTable_ConcurrentSwap(t *testing.T) {
	tbl := NewTable([]Rule{{Action: ActionDrop}})
	m := msg("a", "b", "ping", 1, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tbl.Store([]Rule{{Action: ActionDelay}})
		}()
		go func() {
			defer wg.Done()
			r, ok := tbl.Match(m)
			assert.True(t, ok)
			assert.Contains(t, []Action{ActionDrop, ActionDelay}, r.Action)
		}()
	}
	wg.Wait()
}

func TestBuffer_FIFO(t *testing.T) {
	var b Buffer[int]
	_, ok := b.Pop()
	assert.False(t, ok)

	b.Push(1)
	b.Push(2)
	b.Push(3)
	assert.Equal(t, 3, b.Len())

	for want := 1; want <= 3; want++ {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, b.Len())
}

func TestRule_String(t *testing.T) {
	r := Rule{Action: ActionDrop, Dest: String("b"), Kind: String("ping")}
	assert.Equal(t, "drop dest=b kind=ping", r.String())
}
