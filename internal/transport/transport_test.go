package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anselmolaurindo/chainindexer/internal/router"
)

type fakeHealth struct {
	ok bool
}

func (f fakeHealth) Healthy() (bool, map[string]string) {
	return f.ok, map[string]string{"db": "ok"}
}

func newTestServer(t *testing.T, r *router.Router) (*httptest.Server, *Server) {
	t.Helper()
	srv := New(":0", r, fakeHealth{ok: true}, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.engine)
	t.Cleanup(ts.Close)
	return ts, srv
}

func TestHealthzReportsOK(t *testing.T) {
	r := router.New(zap.NewNop().Sugar())
	defer r.Close()
	ts, _ := newTestServer(t, r)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWebsocketSubscribeReceivesPublishedFrame(t *testing.T) {
	r := router.New(zap.NewNop().Sugar())
	defer r.Close()
	ts, _ := newTestServer(t, r)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(controlFrame{Action: "subscribe", Events: []string{"bc:trade"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // allow subscribe to register before publishing

	r.EmitSync(router.Event{Topic: "bc:trade", Payload: map[string]string{"signature": "sig1"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(body, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != "bc:trade" {
		t.Fatalf("expected bc:trade frame, got %+v", frame)
	}
}

func TestWebsocketUnsubscribeStopsDelivery(t *testing.T) {
	r := router.New(zap.NewNop().Sugar())
	defer r.Close()
	ts, _ := newTestServer(t, r)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.WriteJSON(controlFrame{Action: "subscribe", Events: []string{"amm:trade"}})
	time.Sleep(50 * time.Millisecond)
	conn.WriteJSON(controlFrame{Action: "unsubscribe", Events: []string{"amm:trade"}})
	time.Sleep(50 * time.Millisecond)

	r.EmitSync(router.Event{Topic: "amm:trade", Payload: "should not arrive"})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected read timeout after unsubscribe, got a message")
	}
}
