package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/fault"
)

const sample = `
configuration:
  - name: alice
    ip: 127.0.0.1
    port: 12344
    memberOf: [g1, g2]
  - name: bob
    ip: 127.0.0.1
    port: 14255
    memberOf: [g1]
  - name: charlie
    ip: 127.0.0.1
    port: 12998
    memberOf: [g1, g2]
    mutexGroup: g2
groups:
  - name: g1
    members: [alice, bob, charlie]
  - name: g2
    members: [alice, charlie]
logger:
  - ip: 127.0.0.1
    port: 11111
sendRules:
  - action: drop
    src: bob
    dest: alice
    kind: Ack
    seqNum: 4
  - action: Delay
    kind: Lookup
receiveRules:
  - action: duplicate
    src: charlie
    seqNum: 3
    duplicate: false
`

func codes(t *testing.T, err error) []string {
	t.Helper()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "want ValidationErrors, got %v", err)
	out := make([]string, len(verrs))
	for i, e := range verrs {
		out[i] = e.Code
	}
	return out
}

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "charlie"}, cfg.Processes())
	assert.Equal(t, map[string][]string{
		"g1": {"alice", "bob", "charlie"},
		"g2": {"alice", "charlie"},
	}, cfg.GroupMap())
	require.NotNil(t, cfg.Logger)
	assert.Equal(t, "127.0.0.1:11111", cfg.Logger.Addr())

	require.Len(t, cfg.SendRules, 2)
	drop := cfg.SendRules[0]
	assert.Equal(t, fault.ActionDrop, drop.Action)
	assert.Equal(t, "bob", *drop.Src)
	assert.Equal(t, "alice", *drop.Dest)
	assert.Equal(t, "Ack", *drop.Kind)
	assert.Equal(t, int64(4), *drop.Seq)
	assert.Nil(t, drop.Duplicate)

	delay := cfg.SendRules[1]
	assert.Equal(t, fault.ActionDelay, delay.Action, "actions are case-insensitive")
	assert.Nil(t, delay.Src)
	assert.Nil(t, delay.Seq)

	require.Len(t, cfg.ReceiveRules, 1)
	dup := cfg.ReceiveRules[0]
	assert.Equal(t, fault.ActionDuplicate, dup.Action)
	require.NotNil(t, dup.Duplicate)
	assert.False(t, *dup.Duplicate)
}

func TestConfig_Local(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	l, err := cfg.Local("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Index)
	assert.Equal(t, "g1", l.MutexGroup, "defaults to the first memberOf entry")
	assert.Equal(t, "127.0.0.1:12344", l.Addrs["alice"])
	assert.Len(t, l.Addrs, 3)

	l, err = cfg.Local("charlie")
	require.NoError(t, err)
	assert.Equal(t, "g2", l.MutexGroup)

	_, err = cfg.Local("dave")
	assert.Error(t, err)

	n, ok := cfg.Node("alice")
	require.True(t, ok)
	assert.Equal(t, 12344, n.Port)
}

func TestParse_NoGroupsNoLogger(t *testing.T) {
	cfg, err := Parse([]byte(`
configuration:
  - {name: solo, ip: localhost, port: 9000}
`))
	require.NoError(t, err)
	assert.Nil(t, cfg.Logger)
	assert.Empty(t, cfg.SendRules)
	assert.Empty(t, cfg.GroupMap())

	l, err := cfg.Local("solo")
	require.NoError(t, err)
	assert.Empty(t, l.MutexGroup)
}

func TestParse_NormalizesNames(t *testing.T) {
	decomposed, composed := "Jose\u0301", "Jos\u00e9"
	cfg, err := Parse([]byte("configuration:\n" +
		"  - {name: \"" + decomposed + "\", ip: h, port: 1, memberOf: [g]}\n" +
		"groups:\n" +
		"  - {name: g, members: [\"" + composed + "\"]}\n" +
		"sendRules:\n" +
		"  - {action: drop, src: \"" + decomposed + "\"}\n"))
	require.NoError(t, err, "decomposed and composed forms name the same node")
	assert.Equal(t, []string{composed}, cfg.Processes())
	assert.Equal(t, composed, *cfg.SendRules[0].Src)

	_, err = cfg.Local(decomposed)
	assert.NoError(t, err)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte(`
configuration:
  - {name: a, ip: h, port: 1, colour: red}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ``},
		{"no nodes", "configuration: []\n"},
		{"port out of range", "configuration:\n  - {name: a, ip: h, port: 70000}\n"},
		{"empty name", "configuration:\n  - {name: \"\", ip: h, port: 1}\n"},
		{"bad action", "configuration:\n  - {name: a, ip: h, port: 1}\nsendRules:\n  - {action: explode}\n"},
		{"negative seqNum", "configuration:\n  - {name: a, ip: h, port: 1}\nreceiveRules:\n  - {action: drop, seqNum: -1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			for _, c := range codes(t, err) {
				assert.Equal(t, ErrSchema, c)
			}
		})
	}
}

func TestParse_SemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			"duplicate node",
			"configuration:\n  - {name: a, ip: h, port: 1}\n  - {name: a, ip: h, port: 2}\n",
			ErrDuplicateNode,
		},
		{
			"duplicate address",
			"configuration:\n  - {name: a, ip: h, port: 1}\n  - {name: b, ip: h, port: 1}\n",
			ErrDuplicateAddr,
		},
		{
			"duplicate group",
			"configuration:\n  - {name: a, ip: h, port: 1}\ngroups:\n  - {name: g, members: [a]}\n  - {name: g, members: [a]}\n",
			ErrDuplicateGroup,
		},
		{
			"unknown member",
			"configuration:\n  - {name: a, ip: h, port: 1}\ngroups:\n  - {name: g, members: [a, z]}\n",
			ErrUnknownMember,
		},
		{
			"duplicate member",
			"configuration:\n  - {name: a, ip: h, port: 1}\ngroups:\n  - {name: g, members: [a, a]}\n",
			ErrDuplicateMember,
		},
		{
			"unknown memberOf group",
			"configuration:\n  - {name: a, ip: h, port: 1, memberOf: [nope]}\n",
			ErrUnknownGroup,
		},
		{
			"memberOf group without the node",
			"configuration:\n  - {name: a, ip: h, port: 1, memberOf: [g]}\n  - {name: b, ip: h, port: 2}\ngroups:\n  - {name: g, members: [b]}\n",
			ErrNotInGroup,
		},
		{
			"unknown mutexGroup",
			"configuration:\n  - {name: a, ip: h, port: 1, mutexGroup: nope}\n",
			ErrUnknownGroup,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, codes(t, err), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Nodes, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type ruleSink struct {
	mu    sync.Mutex
	calls int
	send  []fault.Rule
	recv  []fault.Rule
}

func (s *ruleSink) apply(send, recv []fault.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.send, s.recv = send, recv
}

func (s *ruleSink) snapshot() (int, []fault.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.send
}

func TestReload_InvalidKeepsRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("configuration: [\n"), 0o644))

	var sink ruleSink
	assert.Error(t, Reload(path, sink.apply))
	calls, _ := sink.snapshot()
	assert.Zero(t, calls, "apply is not called for an invalid document")

	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	require.NoError(t, Reload(path, sink.apply))
	calls, send := sink.snapshot()
	assert.Equal(t, 1, calls)
	assert.Len(t, send, 2)
}

func TestWatchRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var sink ruleSink
	done := make(chan error, 1)
	go func() { done <- WatchRules(ctx, path, sink.apply, nil) }()

	updated := []byte(sample + "  - action: drop\n    kind: Extra\n")
	// Keep rewriting until the watcher, which starts asynchronously, sees a write.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o644)
		calls, _ := sink.snapshot()
		return calls > 0
	}, 5*time.Second, 50*time.Millisecond)

	sink.mu.Lock()
	require.Len(t, sink.recv, 2)
	assert.Equal(t, "Extra", *sink.recv[1].Kind)
	sink.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("WatchRules did not return after cancel")
	}
}
