// Package web serves a JSON diagnostics API for the bridge and streams panel
// events and item changes over a WebSocket.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"nspanel-bridge/internal/automation"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
)

// Origin marks item writes made through the API.
const Origin = "web"

// Bridge is the part of the MQTT bridge the API exposes.
type Bridge interface {
	RefreshPanel(topic string)
	Simulate(device, which string) error
	CustomLog() []string
	RetainedTopics() []string
	Timers() []string
}

// Automation is the script engine as seen by the API.
type Automation interface {
	Status() ([]automation.ScriptStatus, error)
	RunScript(id string) *automation.RunResult
	ReloadScript(id string) error
	StopScript(id string)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation exposes the script engine.
func WithAutomation(a Automation) ServerOption {
	return func(s *Server) {
		s.automation = a
	}
}

// WithMetrics mounts a metrics handler on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the diagnostics API.
type Server struct {
	panels         *panel.Store
	items          items.Store
	bridge         Bridge
	automation     Automation
	metrics        http.Handler
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubs         []func()
}

// NewServer creates a server and starts forwarding events to WebSocket
// clients.
func NewServer(panels *panel.Store, bus *panel.EventBus, itemStore items.Store, bridge Bridge, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		panels: panels,
		items:  itemStore,
		bridge: bridge,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if bus != nil {
		s.unsubs = append(s.unsubs, bus.OnAll(func(e panel.Event) {
			s.wsHub.Broadcast(streamPanel, e)
		}))
	}
	if itemStore != nil {
		s.unsubs = append(s.unsubs, itemStore.Subscribe(func(c items.Change) {
			s.wsHub.Broadcast(streamItem, itemChange{Path: c.Path, Value: c.Value, Old: c.Old, Origin: c.Origin, Source: c.Source})
		}))
	}

	s.routes()
	return s
}

// Stop unsubscribes, shuts down the WebSocket hub and waits for it.
func (s *Server) Stop() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/panels", s.handleAPIListPanels)
	s.mux.HandleFunc("GET /api/panels/{topic}", s.handleAPIGetPanel)
	s.mux.HandleFunc("POST /api/panels/{topic}/refresh", s.handleAPIRefreshPanel)
	s.mux.HandleFunc("POST /api/panels/{topic}/simulate", s.handleAPISimulate)

	s.mux.HandleFunc("GET /api/items", s.handleAPIListItems)
	s.mux.HandleFunc("GET /api/items/{path}", s.handleAPIGetItem)
	s.mux.HandleFunc("PUT /api/items/{path}", s.handleAPISetItem)

	s.mux.HandleFunc("GET /api/diagnostics", s.handleAPIDiagnostics)

	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts/{id}/run", s.handleAPIRunScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/reload", s.handleAPIReloadScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/stop", s.handleAPIStopScript)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// WebSocket upgrades cannot carry custom headers from a browser, so only
	// /api/ is key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
