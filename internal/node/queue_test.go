package node

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgpass/internal/message"
)

func queued(seq int64) message.TimedMessage {
	return message.TimedMessage{Message: message.Message{Source: "A", Kind: "ping", Seq: seq}}
}

func TestDeliveryQueue_FIFO(t *testing.T) {
	q := newDeliveryQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(queued(i)))
	}
	assert.Equal(t, 3, q.Len())

	for want := int64(1); want <= 3; want++ {
		m, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, m.Seq)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestDeliveryQueue_WaitSignals(t *testing.T) {
	q := newDeliveryQueue()
	done := make(chan int64)

	go func() {
		for {
			if m, ok := q.TryDequeue(); ok {
				done <- m.Seq
				return
			}
			<-q.Wait()
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(queued(7))

	select {
	case seq := <-done:
		assert.Equal(t, int64(7), seq)
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake up")
	}
}

func TestDeliveryQueue_Close(t *testing.T) {
	q := newDeliveryQueue()
	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	q.Close()
	q.Close()
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiter")
	}
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(queued(1)), "enqueue after close should return false")
}

func TestDeliveryQueue_ConcurrentProducers(t *testing.T) {
	q := newDeliveryQueue()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(queued(int64(i)))
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*each, n)
}
