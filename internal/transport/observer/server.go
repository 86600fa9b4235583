// Package observer streams hosted-car events to websocket clients such as
// the visualizer.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"liftsim/internal/observerproto"
	"liftsim/internal/protocol"
)

type Config struct {
	// Car and State feed the bootstrap response. Without Car the state
	// carried by the last emitted event is used.
	Car   func() protocol.CarState
	State func(ctx context.Context) (protocol.State, error)

	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	Logger      *log.Logger
}

// Server is an engine.EventSink that fans events out to every subscriber.
// Slow subscribers lose events rather than stall the car.
type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	subs    map[string]*subscriber
	lastCar protocol.CarState
}

type subscriber struct {
	out chan []byte

	mu    sync.Mutex
	kinds map[string]bool
}

func (s *subscriber) wants(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds) == 0 || s.kinds[kind]
}

func (s *subscriber) setKinds(kinds []string) {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = true
		}
	}
	s.mu.Lock()
	s.kinds = m
	s.mu.Unlock()
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // visualizer runs on another port
		},
		subs: map[string]*subscriber{},
	}
}

// Emit broadcasts ev. It never blocks.
func (s *Server) Emit(ev protocol.CarEvent) {
	b, err := json.Marshal(observerproto.EventMsg{
		Type:            observerproto.TypeEvent,
		ProtocolVersion: observerproto.Version,
		Event:           ev,
	})
	if err != nil {
		s.log.Printf("observer: marshal event: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCar = ev.Car
	for _, sub := range s.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of connected clients.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped counts events discarded because a subscriber's buffer was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) allowed(r *http.Request) bool {
	return s.cfg.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			State:           protocol.State{Requests: []protocol.Passenger{}, Riders: []protocol.Passenger{}},
		}
		if s.cfg.Car != nil {
			resp.Car = s.cfg.Car()
		} else {
			s.mu.Lock()
			resp.Car = s.lastCar
			s.mu.Unlock()
		}
		if s.cfg.State != nil {
			st, err := s.cfg.State(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			resp.State = st
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		me := &subscriber{out: make(chan []byte, 256)}
		me.setKinds(sub.Kinds)
		s.mu.Lock()
		s.subs[sid] = me
		s.mu.Unlock()
		s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
			s.log.Printf("observer %s left", sid)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-me.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != observerproto.TypeSubscribe || upd.ProtocolVersion != observerproto.Version {
				continue
			}
			me.setKinds(upd.Kinds)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
