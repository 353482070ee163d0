// Package server is the development server: it serves the published dist
// directory, falls back to the HTML document for client-side routes and
// pushes reload and error notifications to browsers over a websocket.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/skiff/internal/build"
	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/version"
	"github.com/conneroisu/skiff/internal/watcher"
)

// Server serves dist and implements watcher.Reporter.
type Server struct {
	cfg      *config.Config
	dist     string
	index    string
	gatherer prom.Gatherer
	logger   logging.Logger
	hub      *hub

	mu        sync.RWMutex
	lastOK    *build.Result
	lastErr   *buildError
	builtAt   time.Time
	httpSrv   *http.Server
	closeOnce sync.Once
}

var _ watcher.Reporter = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes the registry on /metrics.
func WithGatherer(g prom.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for a resolved configuration. The websocket hub
// runs until Shutdown.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		dist:   cfg.Build.Dist,
		index:  filepath.Base(cfg.Build.Target),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")
	s.hub = newHub(s.logger)
	go s.hub.run()

	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWebSocket)
	mux.HandleFunc(errorPath, s.handleError)
	mux.HandleFunc(healthPath, s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(s.gatherer))
	}
	mux.HandleFunc("/", s.handleStatic)

	return chain(mux, s.recoverPanics, s.logRequests, securityHeaders)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Serve.Address, strconv.Itoa(s.cfg.Serve.Port))
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	url := "http://" + ln.Addr().String()
	s.logger.Info(context.Background(), "Serving", "url", url, "dist", s.dist)
	if s.cfg.Serve.Open {
		go s.openBrowser(url)
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown closes websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.hub.stop()

		s.mu.RLock()
		srv := s.httpSrv
		s.mu.RUnlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}
	})

	return err
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int {
	return int(s.hub.count.Load())
}

// BuildComplete clears the last error and tells browsers to reload.
func (s *Server) BuildComplete(result *build.Result) {
	s.mu.Lock()
	s.lastOK = result
	s.lastErr = nil
	s.builtAt = time.Now()
	s.mu.Unlock()

	if !s.cfg.Serve.AutoReload {
		return
	}
	msg := message{Type: "reload", Timestamp: time.Now()}
	if result != nil {
		msg.Cycle = result.CycleID.String()
	}
	s.hub.publish(msg.encode())
}

// BuildFailed stores err for the error page and notifies browsers.
func (s *Server) BuildFailed(err error) {
	be := &buildError{Message: err.Error(), At: time.Now()}
	s.mu.Lock()
	s.lastErr = be
	s.builtAt = be.At
	s.mu.Unlock()

	if !s.cfg.Serve.AutoReload {
		return
	}
	s.hub.publish(message{Type: "error", Message: be.Message, Timestamp: be.At}.encode())
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	be := s.lastErr
	s.mu.RUnlock()

	templ.Handler(errorPage(be)).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	status := map[string]interface{}{
		"status":  "healthy",
		"version": version.Get().Short(),
		"clients": s.Clients(),
	}
	if !s.builtAt.IsZero() {
		last := map[string]interface{}{"at": s.builtAt.UTC(), "ok": s.lastErr == nil}
		if s.lastErr != nil {
			last["error"] = s.lastErr.Message
			status["status"] = "degraded"
		} else if s.lastOK != nil {
			last["cycle"] = s.lastOK.CycleID.String()
			last["artifacts"] = len(s.lastOK.Artifacts)
		}
		status["last_build"] = last
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

// handleStatic serves dist. Unknown paths that look like client-side
// routes get the HTML document when SPA fallback is on.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	file := filepath.Join(s.dist, filepath.FromSlash(clean))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, s.index)
		info, err = os.Stat(file)
	}
	if err != nil {
		if !s.cfg.Serve.SPA || !wantsHTML(clean, r) {
			http.NotFound(w, r)
			return
		}
		file = filepath.Join(s.dist, s.index)
		if info, err = os.Stat(file); err != nil {
			http.NotFound(w, r)
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache")
	if !s.cfg.Serve.AutoReload || !isHTML(file) {
		http.ServeFile(w, r, file)
		return
	}

	page, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, "failed to read "+filepath.Base(file), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, filepath.Base(file), info.ModTime(), bytes.NewReader(injectReload(page)))
}

// wantsHTML reports whether a miss on p should fall back to the document.
func wantsHTML(p string, r *http.Request) bool {
	ext := path.Ext(p)
	if ext == "" || ext == ".html" || ext == ".htm" {
		return true
	}

	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func isHTML(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".html" || ext == ".htm"
}
