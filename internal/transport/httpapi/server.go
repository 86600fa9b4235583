// Package httpapi exposes a store.Store, and optionally a hosted car, as the
// JSON HTTP API that remote engines and the visualizer talk to.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

const maxBodyBytes = 64 << 10

type Config struct {
	Store store.Store
	// Car is the hosted engine. Nil disables the /car endpoints.
	Car    *Car
	Logger *log.Logger

	// Snapshot, when set, is called by POST /admin/v1/snapshot and returns
	// the written path. Only loopback clients may call it.
	Snapshot func(ctx context.Context) (string, error)
}

type Server struct {
	store    store.Store
	car      *Car
	logger   *log.Logger
	snapshot func(ctx context.Context) (string, error)
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		store:    cfg.Store,
		car:      cfg.Car,
		logger:   logger,
		snapshot: cfg.Snapshot,
	}
}

// Handler returns the API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /reset", s.handleReset)

	for _, seq := range []sequence{requestsSeq(s.store), ridersSeq(s.store)} {
		mux.HandleFunc("GET /"+seq.name, s.listHandler(seq))
		mux.HandleFunc("POST /"+seq.name, s.appendHandler(seq))
		mux.HandleFunc("DELETE /"+seq.name, s.clearHandler(seq))
		mux.HandleFunc("DELETE /"+seq.name+"/{index}", s.deleteHandler(seq))
	}

	if s.car != nil {
		mux.HandleFunc("GET /car", func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, s.car.State())
		})
		mux.HandleFunc("POST /car/dispatch", s.handleDispatch)
		mux.HandleFunc("POST /car/reset", s.handleCarReset)
	}
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /admin/v1/snapshot", s.handleSnapshot)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h := rw.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// sequence binds one of the two store sequences to its route name.
type sequence struct {
	name   string
	list   func(ctx context.Context) ([]protocol.Passenger, error)
	add    func(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error)
	remove func(ctx context.Context, i int) (protocol.Passenger, error)
	clear  func(ctx context.Context) error
}

func requestsSeq(st store.Store) sequence {
	seq := sequence{name: "requests", list: st.ListRequests, add: st.AppendRequest, remove: st.DeleteRequestAt}
	if c, ok := st.(store.Clearer); ok {
		seq.clear = c.ClearRequests
	}
	return seq
}

func ridersSeq(st store.Store) sequence {
	seq := sequence{name: "riders", list: st.ListRiders, add: st.AppendRider, remove: st.DeleteRiderAt}
	if c, ok := st.(store.Clearer); ok {
		seq.clear = c.ClearRiders
	}
	return seq
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	st, err := s.store.State(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleReset(rw http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(r.Context()); err != nil {
		s.writeError(rw, err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) listHandler(seq sequence) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		out, err := seq.list(r.Context())
		if err != nil {
			s.writeError(rw, err)
			return
		}
		if out == nil {
			out = []protocol.Passenger{}
		}
		writeJSON(rw, http.StatusOK, out)
	}
}

func (s *Server) appendHandler(seq sequence) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
		if err != nil {
			writeErrorCode(rw, http.StatusBadRequest, protocol.ErrBadRequest, "read body: "+err.Error())
			return
		}
		p, err := protocol.DecodePassenger(raw)
		if err != nil {
			writeErrorCode(rw, http.StatusBadRequest, protocol.ErrInvalidRecord, "invalid passenger payload: "+err.Error())
			return
		}
		added, err := seq.add(r.Context(), p)
		if err != nil {
			s.writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, added)
	}
}

func (s *Server) clearHandler(seq sequence) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if seq.clear == nil {
			writeErrorCode(rw, http.StatusMethodNotAllowed, protocol.ErrBadRequest, "store cannot clear "+seq.name)
			return
		}
		if err := seq.clear(r.Context()); err != nil {
			s.writeError(rw, err)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) deleteHandler(seq sequence) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("index")
		i, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorCode(rw, http.StatusNotFound, protocol.ErrIndexOutOfRange, fmt.Sprintf("%s index %q not found", seq.name, raw))
			return
		}
		removed, err := seq.remove(r.Context(), i)
		if err != nil {
			s.writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, removed)
	}
}

func (s *Server) handleDispatch(rw http.ResponseWriter, r *http.Request) {
	// A run is not abandoned halfway because the caller went away.
	st, err := s.car.Dispatch(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleCarReset(rw http.ResponseWriter, r *http.Request) {
	st, err := s.car.Reset(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if s.snapshot == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "snapshots disabled for this backend"})
		return
	}
	path, err := s.snapshot(r.Context())
	if err != nil {
		s.logger.Printf("snapshot: %v", err)
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	if st, err := s.store.State(r.Context()); err == nil {
		fmt.Fprintf(rw, "# HELP liftsim_store_len Current length of each store sequence.\n")
		fmt.Fprintf(rw, "# TYPE liftsim_store_len gauge\n")
		fmt.Fprintf(rw, "liftsim_store_len{sequence=%q} %d\n", "requests", len(st.Requests))
		fmt.Fprintf(rw, "liftsim_store_len{sequence=%q} %d\n", "riders", len(st.Riders))
	}
	if s.car == nil {
		return
	}
	car := s.car.State()
	fmt.Fprintf(rw, "# HELP liftsim_car_floor Current floor of the hosted car.\n")
	fmt.Fprintf(rw, "# TYPE liftsim_car_floor gauge\n")
	fmt.Fprintf(rw, "liftsim_car_floor %d\n", car.Floor)

	fmt.Fprintf(rw, "# HELP liftsim_car_stops_total Stops made since the last car reset.\n")
	fmt.Fprintf(rw, "# TYPE liftsim_car_stops_total counter\n")
	fmt.Fprintf(rw, "liftsim_car_stops_total %d\n", car.Stops)

	fmt.Fprintf(rw, "# HELP liftsim_car_floors_traversed_total Floors moved since the last car reset.\n")
	fmt.Fprintf(rw, "# TYPE liftsim_car_floors_traversed_total counter\n")
	fmt.Fprintf(rw, "liftsim_car_floors_traversed_total %d\n", car.FloorsTraversed)

	fmt.Fprintf(rw, "# HELP liftsim_dispatch_runs_total Dispatch runs served by the hosted car.\n")
	fmt.Fprintf(rw, "# TYPE liftsim_dispatch_runs_total counter\n")
	fmt.Fprintf(rw, "liftsim_dispatch_runs_total %d\n", s.car.Runs())
}

func (s *Server) writeError(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidRecord):
		writeErrorCode(rw, http.StatusBadRequest, protocol.ErrInvalidRecord, err.Error())
	case errors.Is(err, store.ErrIndexOutOfRange):
		writeErrorCode(rw, http.StatusNotFound, protocol.ErrIndexOutOfRange, err.Error())
	case errors.Is(err, ErrCarBusy):
		writeErrorCode(rw, http.StatusConflict, protocol.ErrCarBusy, err.Error())
	case errors.Is(err, ErrCarClosed):
		writeErrorCode(rw, http.StatusServiceUnavailable, protocol.ErrTransportUnavailable, err.Error())
	case errors.Is(err, store.ErrTransportUnavailable):
		s.logger.Printf("store unavailable: %v", err)
		writeErrorCode(rw, http.StatusServiceUnavailable, protocol.ErrTransportUnavailable, err.Error())
	default:
		s.logger.Printf("internal error: %v", err)
		writeErrorCode(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	}
}

func writeErrorCode(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorResponse{Code: code, Error: msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
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
