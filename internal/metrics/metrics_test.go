package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/fault"
	"github.com/roach88/msgpass/internal/node"
)

var _ node.Metrics = (*Session)(nil)

func TestSession_Counters(t *testing.T) {
	s := New("alice")
	s.MessageSent("ping")
	s.MessageSent("ping")
	s.MessageSent("multicast")
	s.MessageDelivered("ping")
	s.FaultAction("send", fault.ActionDrop)
	s.FaultAction("receive", fault.ActionDelay)
	s.FaultAction("receive", fault.ActionDelay)
	s.TransportError()
	s.HeldMessages(3)
	s.HeldMessages(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.sent.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.sent.WithLabelValues("multicast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.delivered.WithLabelValues("ping")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.faults.WithLabelValues("receive", "delay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.transport))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.heldMessage), "gauge reports the latest value")
}

func TestSession_Exposition(t *testing.T) {
	s := New("bob")
	s.MessageDelivered("multicast")
	s.HeldMessages(2)

	expected := `
# HELP msgpass_holdback_messages Multicast messages waiting in hold-back queues.
# TYPE msgpass_holdback_messages gauge
msgpass_holdback_messages{node="bob"} 2
# HELP msgpass_messages_delivered_total Messages handed to the application.
# TYPE msgpass_messages_delivered_total counter
msgpass_messages_delivered_total{kind="multicast",node="bob"} 1
`
	require.NoError(t, testutil.GatherAndCompare(s.Registry(), strings.NewReader(expected),
		"msgpass_holdback_messages", "msgpass_messages_delivered_total"))
}

func TestSession_Handler(t *testing.T) {
	s := New("carol")
	s.TransportError()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `msgpass_transport_errors_total{node="carol"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
