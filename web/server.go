// Package web serves the session over HTTP: a small JSON API for state and
// destinations, and a websocket that streams every session update.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"navengine-go/geom"
	"navengine-go/logging"
	"navengine-go/route"
	"navengine-go/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from anywhere on the local network
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	Hub     *Hub
	Session *session.Session
	// StaticDir, when set, is served at /.
	StaticDir string
	// Stats, when set, backs GET /api/stats.
	Stats func() any
}

func NewServer(sess *session.Session) *Server {
	return &Server{
		Hub:     NewHub(),
		Session: sess,
	}
}

// Handler returns the routes without starting the hub.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/floorplan", s.handleFloorplan)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/destination", s.handleSetDestination)
	mux.HandleFunc("DELETE /api/destination", s.handleClearDestination)
	mux.HandleFunc("GET /ws", s.serveWs)

	if s.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.StaticDir)))
	}
	return mux
}

// Start runs the hub and listens on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.Hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logging.Opsf("HTTP server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Diagf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *Server) handleFloorplan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Floorplan())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, http.StatusNotFound, errors.New("no ingest statistics"))
		return
	}
	writeJSON(w, http.StatusOK, s.Stats())
}

// destinationRequest names a goal in exactly one way.
type destinationRequest struct {
	Node *int     `json:"node,omitempty"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
	Room string   `json:"room,omitempty"`
}

var errBadDestination = errors.New(`destination needs exactly one of "node", "x"+"y" or "room"`)

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	forms := 0
	if req.Node != nil {
		forms++
	}
	if req.X != nil || req.Y != nil {
		if req.X == nil || req.Y == nil {
			writeError(w, http.StatusBadRequest, errBadDestination)
			return
		}
		forms++
	}
	if req.Room != "" {
		forms++
	}
	if forms != 1 {
		writeError(w, http.StatusBadRequest, errBadDestination)
		return
	}

	var (
		u   session.Update
		err error
	)
	switch {
	case req.Node != nil:
		u, err = s.Session.SetDestinationNode(*req.Node)
	case req.Room != "":
		u, err = s.Session.SetDestinationRoom(req.Room)
	default:
		p := geom.Pt(*req.X, *req.Y)
		if !p.Finite() {
			writeError(w, http.StatusBadRequest, errBadDestination)
			return
		}
		u, err = s.Session.SetDestinationPoint(p)
	}
	switch {
	case errors.Is(err, route.ErrUnknownNode), errors.Is(err, session.ErrUnknownRoom):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) handleClearDestination(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.ClearDestination())
}

// serveWs upgrades the connection. The hub sends the current state on
// registration, ahead of any broadcast update.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Diagf("ws upgrade: %v", err)
		return
	}
	newClient(s.Hub, conn, s.snapshot).serve()
}

func (s *Server) snapshot() []byte {
	b, err := json.Marshal(s.Session.Snapshot())
	if err != nil {
		logging.Opsf("encode snapshot: %v", err)
		return nil
	}
	return b
}
