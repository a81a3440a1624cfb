// Package hub fans order status messages out to per-order subscribers.
//
// Delivery is per-order FIFO. Messages for an order with no subscriber
// accumulate in a backlog and are flushed, in arrival order, the moment a
// subscriber attaches, so a client connecting after execution began still
// observes every transition. One subscriber per order: attaching again
// replaces (and closes) the prior connection.
package hub

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/riptidelabs/orderflow/go/order"
)

// Conn is the slice of a websocket connection the hub writes through.
// *websocket.Conn satisfies it; tests use recording fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Maximum time we'll wait for a single frame write to complete.
const writeTimeout = 10 * time.Second

// sendBuffer comfortably holds a full order lifecycle, retries included.
// A subscriber that lets it fill has stopped reading and is dropped.
const sendBuffer = 32

type subscriber struct {
	conn   Conn
	send   chan order.StatusMessage
	closed bool // guarded by Hub.mu; send is closed exactly once
}

// Hub routes status messages to at most one subscriber per order.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	backlog map[string][]order.StatusMessage
}

func New() *Hub {
	return &Hub{
		subs:    make(map[string]*subscriber),
		backlog: make(map[string][]order.StatusMessage),
	}
}

// Attach registers conn as the subscriber of orderID, replacing and
// closing any prior subscriber, and flushes the order's backlog first.
// The hub owns conn from here on and closes it when the subscription
// ends for any reason.
func (h *Hub) Attach(orderID string, conn Conn) {
	var sub = &subscriber{conn: conn, send: make(chan order.StatusMessage, sendBuffer)}

	h.mu.Lock()
	if prior, ok := h.subs[orderID]; ok {
		h.detachLocked(orderID, prior)
	}
	h.subs[orderID] = sub
	var backlog = h.backlog[orderID]
	delete(h.backlog, orderID)
	h.mu.Unlock()

	subscribersGauge.Inc()
	go h.writePump(orderID, sub, backlog)
}

// Detach drops the current subscriber of orderID, if any. Later messages
// accumulate in the backlog again.
func (h *Hub) Detach(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[orderID]; ok {
		h.detachLocked(orderID, sub)
	}
}

// DetachConn drops the subscription of orderID only when conn is still
// its current connection. Read loops use it on disconnect so they never
// tear down a replacement subscriber that attached in the meantime.
func (h *Hub) DetachConn(orderID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[orderID]; ok && sub.conn == conn {
		h.detachLocked(orderID, sub)
	}
}

// Send delivers msg to the order's subscriber, or buffers it when nobody
// is attached. It never blocks on a slow consumer: a subscriber with a
// full send queue has stopped reading and is dropped, and msg is kept
// for a future subscriber.
func (h *Hub) Send(msg order.StatusMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[msg.OrderID]; ok {
		select {
		case sub.send <- msg:
			return
		default:
			log.WithField("orderId", msg.OrderID).
				Warn("subscriber stopped draining; detaching it")
			h.detachLocked(msg.OrderID, sub)
		}
	}
	h.backlog[msg.OrderID] = append(h.backlog[msg.OrderID], msg)
}

// SendStatus is a convenience over Send.
func (h *Hub) SendStatus(orderID string, status order.Status, detail, link string) {
	h.Send(order.StatusMessage{OrderID: orderID, Status: status, Detail: detail, Link: link})
}

// Subscribers reports how many orders currently have a live subscriber.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// detachLocked unregisters sub (when it is still the current subscriber)
// and closes its send channel exactly once. Callers hold h.mu.
func (h *Hub) detachLocked(orderID string, sub *subscriber) {
	if cur := h.subs[orderID]; cur == sub {
		delete(h.subs, orderID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.send)
		subscribersGauge.Dec()
	}
}

// writePump owns all writes to one subscriber: first the backlog snapshot
// taken at attach time, then live messages until the send channel closes
// or a write fails.
func (h *Hub) writePump(orderID string, sub *subscriber, backlog []order.StatusMessage) {
	defer func() {
		h.mu.Lock()
		h.detachLocked(orderID, sub)
		h.mu.Unlock()
		_ = sub.conn.Close()
	}()

	for _, msg := range backlog {
		if err := h.write(sub, msg); err != nil {
			log.WithFields(log.Fields{"orderId": orderID, "error": err}).
				Warn("dropping subscriber on backlog write failure")
			return
		}
	}
	for msg := range sub.send {
		if err := h.write(sub, msg); err != nil {
			log.WithFields(log.Fields{"orderId": orderID, "error": err}).
				Warn("dropping subscriber on write failure")
			return
		}
	}
}

func (h *Hub) write(sub *subscriber, msg order.StatusMessage) error {
	_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sub.conn.WriteJSON(msg)
}
