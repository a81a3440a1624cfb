package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/riptidelabs/orderflow/go/history"
	"github.com/riptidelabs/orderflow/go/hub"
	"github.com/riptidelabs/orderflow/go/ids"
	"github.com/riptidelabs/orderflow/go/intake"
	"github.com/riptidelabs/orderflow/go/order"
	"github.com/riptidelabs/orderflow/go/queue"
)

type testAPI struct {
	server *httptest.Server
	store  *history.Store
	hub    *hub.Hub
	queue  *queue.Memory
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	var path = filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(context.Background(), history.DriverSQLite, "file:"+path+"?_loc=UTC", 4, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	var h = hub.New()
	var q = queue.NewMemory(queue.DefaultRetryPolicy)
	var svc = intake.NewService(store, q, h)

	var server = httptest.NewServer(NewHandler(svc, store, h, cfg))
	t.Cleanup(server.Close)

	return &testAPI{server: server, store: store, hub: h, queue: q}
}

func (a *testAPI) wsURL(query string) string {
	return strings.Replace(a.server.URL, "http", "ws", 1) + "/api/orders/execute" + query
}

func postOrder(t *testing.T, a *testAPI, body string) *http.Response {
	resp, err := http.Post(a.server.URL+"/api/orders/execute", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestExecuteAcceptsAnOrder(t *testing.T) {
	var a = newTestAPI(t, Config{})

	var resp = postOrder(t, a,
		`{"tokenIn": "TOKA", "tokenOut": "TOKB", "amount": 1000000, "orderType": "market"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("x-request-id"))

	var body = decodeBody(t, resp)
	require.Equal(t, "pending", body["status"])
	var orderID = body["orderId"].(string)
	require.Len(t, orderID, ids.Length)

	// The pending history row exists before the response returned.
	rec, err := a.store.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, order.StatusPending, rec.Status)
}

func TestExecuteRejectsAnInvalidPayload(t *testing.T) {
	var a = newTestAPI(t, Config{})

	var resp = postOrder(t, a, `{"tokenIn": "", "tokenOut": "TOKB", "amount": -1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body = decodeBody(t, resp)
	require.Equal(t, "Invalid payload", body["message"])
	require.NotEmpty(t, body["issues"])
}

func TestSubscriptionStreamsStatusFrames(t *testing.T) {
	var a = newTestAPI(t, Config{})

	var resp = postOrder(t, a,
		`{"tokenIn": "TOKA", "tokenOut": "TOKB", "amount": 5000, "orderType": "market"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var orderID = decodeBody(t, resp)["orderId"].(string)

	conn, _, err := websocket.DefaultDialer.Dial(a.wsURL("?orderId="+orderID), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The pending frame emitted at intake is flushed from the backlog.
	var msg order.StatusMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, orderID, msg.OrderID)
	require.Equal(t, order.StatusPending, msg.Status)

	// Live frames follow.
	a.hub.SendStatus(orderID, order.StatusQueued, "", "")
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, order.StatusQueued, msg.Status)
}

func TestSubscriptionWithoutOrderIDCloses1008(t *testing.T) {
	var a = newTestAPI(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(a.wsURL(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	require.Equal(t, "orderId query param required", closeErr.Text)
}

func TestHistoryPaginates(t *testing.T) {
	var a = newTestAPI(t, Config{})
	var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		var job = &order.Job{
			Request: order.Request{
				TokenIn: "TOKA", TokenOut: "TOKB",
				Amount: 100, OrderType: order.TypeMarket,
			},
			OrderID:    fmt.Sprintf("ORDER%07d", i),
			ReceivedAt: t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, a.store.Insert(context.Background(), job, "Order accepted"))
	}

	resp, err := http.Get(a.server.URL + "/api/orders/history?limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body = decodeBody(t, resp)

	var data = body["data"].([]any)
	require.Len(t, data, 2)
	require.Equal(t, "ORDER0000002", data[0].(map[string]any)["orderId"])
	require.Equal(t, "ORDER0000001", data[1].(map[string]any)["orderId"])

	var opts = jsondiff.DefaultConsoleOptions()
	wantPagination, _ := json.Marshal(map[string]any{
		"limit":      2,
		"nextCursor": t0.Add(time.Minute).Format(time.RFC3339Nano),
		"hasMore":    true,
	})
	gotPagination, _ := json.Marshal(body["pagination"])
	diff, report := jsondiff.Compare(gotPagination, wantPagination, &opts)
	require.Equal(t, jsondiff.FullMatch, diff, report)

	// Follow the cursor to the final page.
	resp, err = http.Get(a.server.URL + "/api/orders/history?limit=2&cursor=" +
		t0.Add(time.Minute).Format(time.RFC3339Nano))
	require.NoError(t, err)
	body = decodeBody(t, resp)
	require.Len(t, body["data"].([]any), 1)
	require.Equal(t, false, body["pagination"].(map[string]any)["hasMore"])
	require.Nil(t, body["pagination"].(map[string]any)["nextCursor"])
}

func TestHistoryRejectsABadCursor(t *testing.T) {
	var a = newTestAPI(t, Config{})

	resp, err := http.Get(a.server.URL + "/api/orders/history?cursor=yesterday")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(a.server.URL + "/api/orders/history?limit=abc")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRouteReturns404(t *testing.T) {
	var a = newTestAPI(t, Config{})

	resp, err := http.Get(a.server.URL + "/api/orders/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Route not found", decodeBody(t, resp)["message"])
}

func TestHealthz(t *testing.T) {
	var a = newTestAPI(t, Config{})

	resp, err := http.Get(a.server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestBearerAuthGuardsTheAPI(t *testing.T) {
	var key = []byte("test-signing-key")
	var a = newTestAPI(t, Config{AuthKey: key})

	// No token.
	resp, err := http.Get(a.server.URL + "/api/orders/history")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Token signed with the wrong key.
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-key"))
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, a.server.URL+"/api/orders/history", nil)
	req.Header.Set("Authorization", "Bearer "+badToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A properly signed token passes.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	req, _ = http.NewRequest(http.MethodGet, a.server.URL+"/api/orders/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health and metrics stay open.
	resp, err = http.Get(a.server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
