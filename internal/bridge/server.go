package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clipforge/warden/internal/stats"
	"github.com/clipforge/warden/internal/supervisor"
	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
	"github.com/clipforge/warden/pkg/logger"
)

const (
	// eventWriteWait bounds a single websocket write to a subscriber.
	eventWriteWait = 10 * time.Second
	// eventSendBuffer is the per-subscriber queue; a subscriber that falls
	// this far behind is dropped rather than allowed to stall publishers.
	eventSendBuffer = 16
)

// Server is the UI-facing surface of the desktop shell. The renderer talks
// only to this server: lifecycle calls go to the supervisor, everything
// under /backend/ is reverse-proxied to the backend itself. The UI never
// touches processes.
type Server struct {
	sup       *supervisor.Supervisor
	collector *stats.Collector
	proxy     *httputil.ReverseProxy
	upgrader  websocket.Upgrader
	log       logger.Logger

	mu      sync.Mutex
	clients map[string]*eventClient

	httpSrv *http.Server
}

// eventClient is one websocket subscriber. Events are queued on send and
// written by a dedicated goroutine so publish never blocks on a peer.
type eventClient struct {
	conn *websocket.Conn
	send chan supervisor.Event
}

// StateResponse is the full status snapshot served at /api/state.
type StateResponse struct {
	State        consts.SupervisorState   `json:"state"`
	Connectivity consts.ConnectivityState `json:"connectivity"`
	Mode         consts.DeploymentMode    `json:"mode,omitempty"`
	PID          int                      `json:"pid,omitempty"`
	Health       any                      `json:"health,omitempty"`
	HealthError  string                   `json:"health_error,omitempty"`
}

func New(sup *supervisor.Supervisor, backendURL string) (*Server, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "Bridge", "invalid backend URL", err)
	}

	s := &Server{
		sup:       sup,
		collector: stats.NewCollector(),
		proxy:     httputil.NewSingleHostReverseProxy(target),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge binds to loopback; the renderer is the only caller.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logger.Log.With("component", "bridge"),
		clients: make(map[string]*eventClient),
	}
	s.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("Backend proxy error", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   "BackendUnreachable",
		})
	}

	sup.OnEvent = s.publish
	return s, nil
}

// Handler builds the route table. Split out of Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/backend/ensure", s.handleEnsure)
	mux.HandleFunc("POST /api/backend/shutdown", s.handleShutdown)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("/backend/", http.StripPrefix("/backend", s.proxy))
	return mux
}

// Start binds addr and serves in the background. A bind failure is returned
// synchronously so startup can surface it.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.ErrCodeBridgeBind, "Bridge", "binding UI bridge listener", err)
	}

	s.httpSrv = &http.Server{Handler: s.Handler()}
	s.log.Info("Bridge listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Bridge server failed", "err", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and closes event subscribers.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn("Bridge shutdown", "err", err)
		}
	}
}

func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	res := s.sup.EnsureBackendRunning()
	// Failures are part of the contract, not HTTP errors.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.sup.ShutdownBackend()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		State:        s.sup.State(),
		Connectivity: s.sup.Connectivity(),
		Mode:         s.sup.Mode(),
		PID:          s.sup.PID(),
	}
	if report, err := s.sup.Health(); report != nil {
		resp.Health = report
	} else if err != nil {
		resp.HealthError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth performs a live probe so the UI gets current truth, not the
// last poll tick.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.sup.Monitor().Probe(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"health":  report,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	pid := s.sup.PID()
	snap, err := s.collector.Collect(r.Context(), pid)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   snap,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Event subscriber upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	c := &eventClient{conn: conn, send: make(chan supervisor.Event, eventSendBuffer)}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	s.log.Info("Event subscriber connected", "client", id)

	// Writer loop: the only goroutine that touches the connection for
	// writes. A slow or dead peer times out here and gets dropped.
	go func() {
		for e := range c.send {
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Warn("Event subscriber write failed", "client", id, "err", err)
				s.removeClient(id)
				break
			}
		}
	}()

	// Reader loop only to detect close; subscribers never send payloads.
	go func() {
		defer s.removeClient(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// publish fans a supervisor event out to all websocket subscribers. It only
// enqueues; the per-client writer goroutines do the network I/O, so callers
// holding supervisor locks never wait on a peer.
func (s *Server) publish(e supervisor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.send <- e:
		default:
			s.log.Warn("Dropping stalled event subscriber", "client", id)
			delete(s.clients, id)
			close(c.send)
			c.conn.Close()
		}
	}
}

// removeClient unregisters and closes a subscriber. Safe to call from both
// the reader and writer loops; only the first caller finds the entry.
func (s *Server) removeClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
		close(c.send)
	}
	s.mu.Unlock()
	if ok {
		c.conn.Close()
		s.log.Info("Event subscriber disconnected", "client", id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Bridge response encoding failed", "err", err)
	}
}
