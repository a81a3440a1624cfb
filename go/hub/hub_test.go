package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riptidelabs/orderflow/go/order"
)

// fakeConn records frames and can be scripted to fail writes.
type fakeConn struct {
	mu       sync.Mutex
	frames   []order.StatusMessage
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, v.(order.StatusMessage))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() []order.StatusMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]order.StatusMessage(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func msg(id string, s order.Status) order.StatusMessage {
	return order.StatusMessage{OrderID: id, Status: s}
}

func TestHubDeliversInOrder(t *testing.T) {
	var h = New()
	var conn = &fakeConn{}
	h.Attach("ORDER1", conn)

	h.Send(msg("ORDER1", order.StatusQueued))
	h.Send(msg("ORDER1", order.StatusRouting))
	h.Send(msg("ORDER1", order.StatusBuilding))

	require.Eventually(t, func() bool { return len(conn.snapshot()) == 3 },
		time.Second, 5*time.Millisecond)
	var got = conn.snapshot()
	require.Equal(t, order.StatusQueued, got[0].Status)
	require.Equal(t, order.StatusRouting, got[1].Status)
	require.Equal(t, order.StatusBuilding, got[2].Status)
}

func TestHubFlushesBacklogOnAttach(t *testing.T) {
	var h = New()

	// Execution raced ahead of the subscriber.
	h.Send(msg("ORDER1", order.StatusQueued))
	h.Send(msg("ORDER1", order.StatusRouting))

	var conn = &fakeConn{}
	h.Attach("ORDER1", conn)
	require.Eventually(t, func() bool { return len(conn.snapshot()) == 2 },
		time.Second, 5*time.Millisecond)

	// Live messages follow the flushed backlog.
	h.Send(msg("ORDER1", order.StatusConfirmed))
	require.Eventually(t, func() bool { return len(conn.snapshot()) == 3 },
		time.Second, 5*time.Millisecond)

	var got = conn.snapshot()
	require.Equal(t, order.StatusQueued, got[0].Status)
	require.Equal(t, order.StatusRouting, got[1].Status)
	require.Equal(t, order.StatusConfirmed, got[2].Status)
}

func TestHubIsolatesOrders(t *testing.T) {
	var h = New()
	var a, b = &fakeConn{}, &fakeConn{}
	h.Attach("ORDERA", a)
	h.Attach("ORDERB", b)

	h.Send(msg("ORDERA", order.StatusQueued))
	h.Send(msg("ORDERB", order.StatusFailed))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "ORDERA", a.snapshot()[0].OrderID)
	require.Equal(t, "ORDERB", b.snapshot()[0].OrderID)
}

func TestHubReplacesSubscriber(t *testing.T) {
	var h = New()
	var first = &fakeConn{}
	h.Attach("ORDER1", first)

	var second = &fakeConn{}
	h.Attach("ORDER1", second)

	// The prior connection is closed, and traffic flows to the new one.
	require.Eventually(t, func() bool { return first.isClosed() },
		time.Second, 5*time.Millisecond)

	h.Send(msg("ORDER1", order.StatusQueued))
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Empty(t, first.snapshot())
	require.Equal(t, 1, h.Subscribers())
}

func TestHubDetachBuffersSubsequentSends(t *testing.T) {
	var h = New()
	var first = &fakeConn{}
	h.Attach("ORDER1", first)
	h.Send(msg("ORDER1", order.StatusQueued))
	require.Eventually(t, func() bool { return len(first.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)

	h.Detach("ORDER1")
	require.Eventually(t, func() bool { return first.isClosed() },
		time.Second, 5*time.Millisecond)
	require.Zero(t, h.Subscribers())

	// Messages sent while nobody listens await the next subscriber.
	h.Send(msg("ORDER1", order.StatusRouting))
	h.Send(msg("ORDER1", order.StatusFailed))

	var second = &fakeConn{}
	h.Attach("ORDER1", second)
	require.Eventually(t, func() bool { return len(second.snapshot()) == 2 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, order.StatusRouting, second.snapshot()[0].Status)
	require.Equal(t, order.StatusFailed, second.snapshot()[1].Status)
}

func TestHubDropsSubscriberOnWriteFailure(t *testing.T) {
	var h = New()
	var conn = &fakeConn{writeErr: errors.New("broken pipe")}
	h.Attach("ORDER1", conn)

	h.Send(msg("ORDER1", order.StatusQueued))

	require.Eventually(t, func() bool { return conn.isClosed() },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.Subscribers() == 0 },
		time.Second, 5*time.Millisecond)

	// The hub recovers: later messages buffer for a fresh subscriber.
	h.Send(msg("ORDER1", order.StatusFailed))
	var second = &fakeConn{}
	h.Attach("ORDER1", second)
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)
}
