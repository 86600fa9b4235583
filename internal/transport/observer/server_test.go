package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liftsim/internal/observerproto"
	"liftsim/internal/protocol"
)

func startObserver(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return s, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, s *Server, conn *websocket.Conn, kinds ...string) {
	t.Helper()
	want := s.Subscribers() + 1
	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Kinds:           kinds,
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() < want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.CarEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.EventMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeEvent || msg.ProtocolVersion != observerproto.Version {
		t.Fatalf("msg=%+v", msg)
	}
	return msg.Event
}

func TestObserver_BroadcastsEvents(t *testing.T) {
	s, hs := startObserver(t, Config{})
	a, b := dial(t, hs), dial(t, hs)
	subscribe(t, s, a)
	subscribe(t, s, b)

	s.Emit(protocol.CarEvent{Seq: 1, Kind: protocol.EventMove, Car: protocol.CarState{Floor: 1, FloorsTraversed: 1}})

	for _, c := range []*websocket.Conn{a, b} {
		ev := readEvent(t, c)
		if ev.Seq != 1 || ev.Kind != protocol.EventMove || ev.Car.Floor != 1 {
			t.Fatalf("event=%+v", ev)
		}
	}
}

func TestObserver_KindFilter(t *testing.T) {
	s, hs := startObserver(t, Config{})
	c := dial(t, hs)
	subscribe(t, s, c, protocol.EventStop)

	s.Emit(protocol.CarEvent{Seq: 1, Kind: protocol.EventMove})
	s.Emit(protocol.CarEvent{Seq: 2, Kind: protocol.EventStop, Car: protocol.CarState{Floor: 2, Stops: 1, FloorsTraversed: 2}})

	ev := readEvent(t, c)
	if ev.Seq != 2 || ev.Kind != protocol.EventStop {
		t.Fatalf("event=%+v", ev)
	}
}

func TestObserver_RejectsBadHandshake(t *testing.T) {
	_, hs := startObserver(t, Config{})
	c := dial(t, hs)
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestObserver_Bootstrap(t *testing.T) {
	_, hs := startObserver(t, Config{
		Car: func() protocol.CarState { return protocol.CarState{Floor: 4, Stops: 3, FloorsTraversed: 9} },
		State: func(ctx context.Context) (protocol.State, error) {
			return protocol.State{
				Requests: []protocol.Passenger{{Name: "a", Origin: 1, Destination: 2}},
				Riders:   []protocol.Passenger{},
			}, nil
		},
	})
	resp, err := http.Get(hs.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ProtocolVersion != observerproto.Version || out.Car.Floor != 4 || len(out.State.Requests) != 1 {
		t.Fatalf("bootstrap=%+v", out)
	}
}

func TestObserver_RemoteForbiddenByDefault(t *testing.T) {
	s := NewServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/observer/ws", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	rr := httptest.NewRecorder()
	s.WSHandler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestObserver_EmitWithoutSubscribers(t *testing.T) {
	s := NewServer(Config{})
	s.Emit(protocol.CarEvent{Seq: 1, Kind: protocol.EventMove})
	if s.Dropped() != 0 {
		t.Fatalf("dropped=%d", s.Dropped())
	}
}
