// Package http serves the broadcast overlay: the latest snapshot as JSON,
// a self-contained HTML page and a WebSocket stream of snapshot events.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ebycow/famista/internal/bus"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/pkg/protocol"
)

//go:embed overlay.html
var overlayHTML []byte

// Options configures the overlay server.
type Options struct {
	Token        string // empty disables auth
	HomeName     string
	AwayName     string
	RateLimitRPM int // per client IP, 0 disables
}

// Server is the overlay HTTP server. It only reads the snapshot cell; the
// watcher owns writes.
type Server struct {
	cell     *scoreboard.Cell
	token    string
	limiter  *rateLimiter
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu       sync.Mutex
	homeName string
	awayName string
	clients  map[string]*streamClient
}

// NewServer creates the overlay server over cell.
func NewServer(opts Options, cell *scoreboard.Cell) *Server {
	s := &Server{
		cell:     cell,
		token:    opts.Token,
		limiter:  newRateLimiter(opts.RateLimitRPM, 0),
		homeName: opts.HomeName,
		awayName: opts.AwayName,
		clients:  make(map[string]*streamClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Overlay pages are loaded from file:// or streaming software.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /state.json", s.rateLimited(s.requireAuth(s.handleState)))
	mux.HandleFunc("GET /{$}", s.rateLimited(s.requireAuth(s.handleOverlay)))
	mux.HandleFunc("GET /overlay.html", s.rateLimited(s.requireAuth(s.handleOverlay)))
	mux.HandleFunc("GET /ws", s.rateLimited(s.requireAuth(s.handleWS)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux = mux
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// SetTeamNames changes the displayed team names (config reload).
func (s *Server) SetTeamNames(home, away string) {
	s.mu.Lock()
	s.homeName, s.awayName = home, away
	s.mu.Unlock()
	s.broadcast(protocol.NewEvent(protocol.EventSnapshot, s.State(), 0))
}

// State builds the current overlay view.
func (s *Server) State() protocol.StateView {
	s.mu.Lock()
	v := protocol.StateView{HomeName: s.homeName, AwayName: s.awayName, Inning: 1, Side: string(scoreboard.Top)}
	s.mu.Unlock()

	if snap, ok := s.cell.Get(); ok {
		at := snap.At
		v.Seq = snap.Seq
		v.Home = int(snap.Home)
		v.Away = int(snap.Away)
		v.Inning = snap.Inning
		v.Side = string(snap.Side)
		v.Balls = int(snap.Balls)
		v.Strikes = int(snap.Strikes)
		v.Outs = int(snap.Outs)
		v.On1, v.On2, v.On3 = snap.Bases[0], snap.Bases[1], snap.Bases[2]
		v.Line = snap.Line()
		v.Updated = &at
	}
	v.Gate = gateView(s.cell.Gate())
	return v
}

func gateView(g scoreboard.GateStatus) protocol.GateView {
	gv := protocol.GateView{Ready: g.Ready, Hex: make([]string, len(g.Values))}
	for i, b := range g.Values {
		gv.Hex[i] = b.String()
	}
	return gv
}

// HandleEvent is the bus subscriber that forwards watcher events to
// stream clients.
func (s *Server) HandleEvent(ev bus.Event) {
	switch ev.Name {
	case protocol.EventSnapshot:
		v := s.State()
		s.broadcast(protocol.NewEvent(protocol.EventSnapshot, v, v.Seq))
	case protocol.EventGate:
		if g, ok := ev.Payload.(scoreboard.GateStatus); ok {
			s.broadcast(protocol.NewEvent(protocol.EventGate, gateView(g), 0))
		}
	}
}

func (s *Server) broadcast(ev *protocol.EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.sendEvent(ev)
	}
}

// Serve serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.limiter.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("overlay server listening", "addr", addr, "page", "http://"+addr+"/overlay.html")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("overlay server stopped")
	return nil
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	bye := protocol.NewEvent(protocol.EventShutdown, nil, 0)
	for id, c := range s.clients {
		c.sendEvent(bye)
		c.close()
		delete(s.clients, id)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	writeJSON(w, http.StatusOK, s.State())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(overlayHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, has := s.cell.Get()
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"has_snapshot": has,
		"clients":      n,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("overlay websocket upgrade failed", "remote", clientIP(r), "error", err)
		return
	}

	c := newStreamClient(conn)
	c.sendEvent(protocol.NewEvent(protocol.EventHello, protocol.Hello{Protocol: protocol.ProtocolVersion, State: s.State()}, 0))

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Debug("overlay client connected", "client", c.id, "remote", clientIP(r))

	c.run()

	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		c.close()
	}
	s.mu.Unlock()
	slog.Debug("overlay client disconnected", "client", c.id)
}

func noStore(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorShape{Code: code, Message: msg})
}
