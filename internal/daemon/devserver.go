// Package daemon runs the auxiliary dev server: the change loop, the
// live-reload endpoints and the ordered shutdown.
package daemon

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/internal/static"
	"github.com/eliteGoblin/devreload/internal/usecase"
)

//go:embed assets/livereload.js
var embeddedScript []byte

// ChangeSource produces accepted changes.
type ChangeSource interface {
	Changes() <-chan domain.Change
	Start()
	Pause()
	Close() error
}

// SessionRegistry holds the live-reload sessions.
type SessionRegistry interface {
	domain.Reloader
	Serve(ctx context.Context, conn domain.SessionConn, remoteAddr string) error
	CloseAll()
	Count() int
}

// DevServerConfig holds dev server configuration.
type DevServerConfig struct {
	Addr            string        // Listen address of the auxiliary server
	StaticRoot      string        // Static directory served under StaticURL, empty to disable
	StaticURL       string        // URL prefix of the static directory
	ScriptPath      string        // livereload.js override, empty for the embedded client
	StopTimeout     time.Duration // Graceful stop window for the application
	ShutdownTimeout time.Duration // How long open HTTP requests may take at shutdown
}

// DefaultDevServerConfig returns default dev server configuration.
func DefaultDevServerConfig() DevServerConfig {
	return DevServerConfig{
		Addr:            ":8001",
		StaticURL:       "/static/",
		StopTimeout:     5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// NewDevServerConfig derives the dev server configuration from cfg.
func NewDevServerConfig(cfg domain.Config) DevServerConfig {
	c := DefaultDevServerConfig()
	c.Addr = fmt.Sprintf(":%d", cfg.AuxPort)
	c.StaticRoot = cfg.StaticRoot()
	c.StaticURL = cfg.StaticURL
	c.ScriptPath = cfg.LiveReloadScript
	c.StopTimeout = cfg.StopTimeout
	return c
}

// DevServer owns the change loop and the auxiliary HTTP server.
type DevServer struct {
	config     DevServerConfig
	source     ChangeSource
	supervisor domain.Supervisor
	registry   SessionRegistry
	dispatcher *usecase.Dispatcher
	script     *scriptCache
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewDevServer creates a dev server.
func NewDevServer(
	config DevServerConfig,
	source ChangeSource,
	sup domain.Supervisor,
	registry SessionRegistry,
	fs domain.FileSystemManager,
	logger *zap.Logger,
) *DevServer {
	return &DevServer{
		config:     config,
		source:     source,
		supervisor: sup,
		registry:   registry,
		dispatcher: usecase.NewDispatcher(sup, registry, logger.Named("dispatch")),
		script:     &scriptCache{path: config.ScriptPath, fs: fs},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Pages are served from the app port, not ours
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler returns the auxiliary HTTP routes.
func (s *DevServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livereload.js", s.handleScript)
	mux.HandleFunc("/livereload", s.handleSession)
	if s.config.StaticRoot != "" {
		responder := static.NewResponder(s.config.StaticRoot, s.config.StaticURL, s.logger.Named("static"))
		mux.Handle(responder.Pattern(), responder)
	}
	return mux
}

// Addr returns the bound listen address once Run is serving.
func (s *DevServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled or a fatal error occurs, then shuts
// everything down in order. The returned error is nil on a clean shutdown.
func (s *DevServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return loopCtx },
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	s.logger.Info("auxiliary server listening", zap.String("addr", ln.Addr().String()))

	s.source.Start()
	if err := s.supervisor.Start(loopCtx); err != nil {
		cancel()
		s.shutdown(server)
		return err
	}

	fatal := s.loop(loopCtx, serveErr)
	cancel()
	s.shutdown(server)
	return fatal
}

// loop is the only consumer of the change queue.
func (s *DevServer) loop(ctx context.Context, serveErr <-chan error) error {
	changes := s.source.Changes()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return nil

		case change, ok := <-changes:
			if !ok {
				return nil
			}
			s.dispatcher.Dispatch(ctx, change)

		case err := <-s.dispatcher.Fatal():
			return err

		case err := <-serveErr:
			return fmt.Errorf("auxiliary server: %w", err)
		}
	}
}

// shutdown stops taking changes, closes the sessions, stops the app, joins
// the watcher and finally closes the listener.
func (s *DevServer) shutdown(server *http.Server) {
	s.source.Pause()
	s.registry.CloseAll()

	s.dispatcher.Wait()
	if err := s.supervisor.Stop(context.Background(), s.config.StopTimeout); err != nil {
		s.logger.Warn("failed to stop application", zap.Error(err))
	}

	if err := s.source.Close(); err != nil {
		s.logger.Warn("failed to close watcher", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to shut down auxiliary server", zap.Error(err))
	}
}

func (s *DevServer) handleScript(w http.ResponseWriter, r *http.Request) {
	data, err := s.script.load()
	if err != nil {
		s.logger.Error("failed to read livereload script", zap.String("path", s.config.ScriptPath), zap.Error(err))
		http.Error(w, "livereload.js unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write(data)
}

func (s *DevServer) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	_ = s.registry.Serve(r.Context(), conn, r.RemoteAddr)
}

// scriptCache reads the client script at most once.
type scriptCache struct {
	path string
	fs   domain.FileSystemManager

	once sync.Once
	data []byte
	err  error
}

func (c *scriptCache) load() ([]byte, error) {
	c.once.Do(func() {
		if c.path == "" {
			c.data = embeddedScript
			return
		}
		c.data, c.err = c.fs.ReadFile(c.path)
	})
	return c.data, c.err
}
