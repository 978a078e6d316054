package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/message"
)

// pongEcho replies to every ping with a pong carrying the same sequence number.
type pongEcho struct {
	recorder
	ep *Endpoint
}

func (e *pongEcho) HandleIncoming(ctx context.Context, m message.TimedMessage) error {
	if err := e.recorder.HandleIncoming(ctx, m); err != nil {
		return err
	}
	if m.Kind != "ping" {
		return nil
	}
	reply := msg(m.Seq)
	reply.Kind = "pong"
	return e.ep.Send(ctx, m.Source, reply)
}

func TestScheduler_NothingMovesUntilFlush(t *testing.T) {
	s := NewScheduler()
	b := &recorder{}
	s.Attach("b", b)

	require.NoError(t, s.Endpoint("a").Send(context.Background(), "b", msg(1)))
	assert.Equal(t, 1, s.Pending())
	assert.Empty(t, b.seqs())

	n, err := s.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, b.seqs())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_GlobalFIFO(t *testing.T) {
	s := NewScheduler()
	a := &recorder{}
	b := &pongEcho{}
	b.ep = s.Endpoint("b")
	s.Attach("a", a)
	s.Attach("b", b)

	ep := s.Endpoint("a")
	require.NoError(t, ep.Send(context.Background(), "b", msg(1)))
	require.NoError(t, ep.Send(context.Background(), "b", msg(2)))

	n, err := s.Flush(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int64{1, 2}, a.seqs())

	var route []string
	for _, env := range s.Sent() {
		route = append(route, env.From+">"+env.To+":"+env.Msg.Kind)
	}
	assert.Equal(t, []string{"a>b:ping", "a>b:ping", "b>a:pong", "b>a:pong"}, route)
}

func TestScheduler_Limit(t *testing.T) {
	s := NewScheduler()
	s.Attach("b", &recorder{})
	ep := s.Endpoint("a")
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, ep.Send(context.Background(), "b", msg(i)))
	}

	n, err := s.Flush(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, err.Error(), "1 messages still queued")
}

func TestScheduler_DownAndErrors(t *testing.T) {
	s := NewScheduler()
	s.Attach("b", &recorder{fail: errors.New("bad frame")})

	s.SetDown("b", true)
	assert.Error(t, s.Endpoint("a").Send(context.Background(), "b", msg(1)))
	assert.Error(t, s.Endpoint("a").Send(context.Background(), "zoe", msg(1)))

	s.SetDown("b", false)
	require.NoError(t, s.Endpoint("a").Send(context.Background(), "b", msg(2)))
	_, err := s.Flush(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, s.Errors(), 1)
	assert.Contains(t, s.Errors()[0].Error(), "a -> b: bad frame")
}
