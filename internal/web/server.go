// Package web provides an HTTP status server for the solar-hot-water daemon.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sweeney/solar-hot-water/internal/session"
	"github.com/sweeney/solar-hot-water/internal/status"
)

// Server serves the status page over HTTP and pushes live updates to
// WebSocket clients on /ws.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	hub        *hub
	log        zerolog.Logger
}

var _ session.Observer = (*Server)(nil)

// New creates a Server that reads state from the given tracker. If gatherer
// is non-nil its metrics are served on /metrics.
func New(addr string, tracker *status.Tracker, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{tracker: tracker, hub: newHub(log), log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown disconnects WebSocket clients and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast pushes the current status to every WebSocket client.
func (s *Server) Broadcast() {
	s.hub.broadcast(status.FormatStatusEvent(s.tracker.Snapshot(), "", ""))
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Evaluated pushes the new status after each evaluation. The tracker must
// observe the evaluation first.
func (s *Server) Evaluated(session.Evaluation) {
	s.Broadcast()
}

// Rejected is a no-op; rejected samples don't change the page.
func (s *Server) Rejected(string, error) {}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- status.FormatStatusEvent(s.tracker.Snapshot(), "", "")
	if !s.hub.register(c) {
		c.reject()
		return
	}
	go c.writePump()
	c.readPump()
}
