package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// wsWriteTimeout bounds control-frame writes during subscription setup
// and teardown.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer for the REST
	// surface; subscriptions carry no state-changing semantics.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveSubscribe upgrades the request and attaches the connection as
// the order's status subscriber. Frames flow server to client only; the
// read loop exists to notice disconnects.
func (s *Server) serveSubscribe(w http.ResponseWriter, r *http.Request) {
	var orderID = r.URL.Query().Get("orderId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		log.WithFields(log.Fields{"error": err, "client": r.RemoteAddr}).
			Warn("failed to upgrade subscription request")
		return
	}

	if orderID == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "orderId query param required")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{"panic": p, "orderId": orderID}).
				Error("subscription handler panicked")
			closeWith(conn, websocket.CloseInternalServerErr, "Internal server error")
		}
	}()

	log.WithFields(log.Fields{"orderId": orderID, "client": r.RemoteAddr}).
		Debug("subscriber attached")
	s.hub.Attach(orderID, conn)

	// Drain (and discard) client frames until the peer goes away. The
	// hub owns all writes from here; detach only if this connection is
	// still the order's current subscriber.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.DetachConn(orderID, conn)
			return
		}
	}
}

// closeWith sends a close frame carrying code and reason, then drops
// the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	var deadline = time.Now().Add(wsWriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		log.WithField("error", err).Debug("failed to write websocket close")
	}
	_ = conn.Close()
}
