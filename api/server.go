// Package api serves tag reads, writes and session management over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/plcman"
)

// Server is the REST API server.
type Server struct {
	config  config.APIConfig
	handler http.Handler
	events  *EventHub

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// NewServer creates a REST API server over the managed PLCs. events may be
// nil to disable the /events stream.
func NewServer(manager *plcman.Manager, cfg config.APIConfig, events *EventHub) *Server {
	return &Server{
		config: cfg,
		events: events,
		handler: NewRouter(Options{
			PLCs:       manager,
			Events:     events,
			APIKeyHash: cfg.APIKeyHash,
		}),
	}
}

// Handler returns the router, for embedding or httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		logging.DebugError("api", "listen "+s.config.Address(), err)
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.running = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.DebugError("api", "serve", err)
			s.mu.Lock()
			if s.server == srv {
				s.running = false
			}
			s.mu.Unlock()
		}
	}()

	logging.DebugLog("api", "listening on %s", ln.Addr())
	return nil
}

// Stop halts the HTTP server and disconnects event stream clients.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	if s.events != nil {
		s.events.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// Address returns the URL the server is reachable at. While running it
// reports the bound port, which matters when the configured port is 0.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return "http://" + s.config.Address()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
