package session

import (
	"sync"
	"testing"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"
)

func TestUnregisterDuringBroadcastDoesNotPanic(t *testing.T) {
	h := NewHub(slog.Disabled)

	// A broadcast from a table goroutine racing a disconnect must drop
	// the frame, not kill the process.
	for i := 0; i < 200; i++ {
		c := NewClient(h, nil, "p1", slog.Disabled)
		h.Register(c)
		h.Subscribe(c, "tbl-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.SendEnvelope(Envelope{Type: TypeStateUpdate})
			}
		}()
		go func() {
			defer wg.Done()
			h.Unregister(c)
		}()
		wg.Wait()

		require.True(t, c.SendEnvelope(Envelope{Type: TypeStateUpdate}),
			"a send after disconnect is dropped, not treated as a slow consumer")
	}
}

func TestUnregisterIsIdempotentAndDropsSubscriptions(t *testing.T) {
	h := NewHub(slog.Disabled)
	c := NewClient(h, nil, "p1", slog.Disabled)
	h.Register(c)
	h.Subscribe(c, "tbl-1")
	require.Len(t, h.Subscribers("tbl-1"), 1)

	h.Unregister(c)
	require.Empty(t, h.Subscribers("tbl-1"))

	// A second unregister, e.g. read pump exit after a slow-consumer
	// drop, is a no-op.
	h.Unregister(c)
	c.Close()
}

func TestSlowConsumerQueueOverflowReported(t *testing.T) {
	h := NewHub(slog.Disabled)
	c := NewClient(h, nil, "p1", slog.Disabled)
	h.Register(c)

	for i := 0; i < sendQueueSize; i++ {
		require.True(t, c.SendEnvelope(Envelope{Type: TypeStateUpdate}))
	}
	require.False(t, c.SendEnvelope(Envelope{Type: TypeStateUpdate}),
		"a full queue reports overflow so the hub can drop the session")
}
