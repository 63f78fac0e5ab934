package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultShutdownGrace = 3 * time.Second

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Settings is what the bridge needs to bind and authenticate one run.
type Settings struct {
	Host   string
	Port   int
	Secret string
}

type ConfigProvider interface {
	BridgeSettings() (Settings, error)
}

type ConfigProviderFunc func() (Settings, error)

func (f ConfigProviderFunc) BridgeSettings() (Settings, error) { return f() }

type Options struct {
	Config          ConfigProvider
	Dispatcher      CommandDispatcher
	EditorLink      http.Handler
	Notifier        Notifier
	OnStatusChange  func(running bool)
	Logger          *slog.Logger
	Version         string
	BodyReadTimeout time.Duration
	ShutdownGrace   time.Duration
}

// active is held by the one Server allowed to run in this process.
var active atomic.Pointer[Server]

type Server struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	srv    *http.Server
	ln     net.Listener
	secret string
	port   int
	gen    uint64

	wg sync.WaitGroup
}

func NewServer(opts Options) *Server {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier(lg)
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Server{opts: opts, logger: lg.With("module", "bridge")}
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Running() bool { return s.State() == StateRunning }

// Addr is the bound listener address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		port := s.port
		s.mu.Unlock()
		s.notify(LevelInfo, fmt.Sprintf("Bridge Connector is already running on port %d", port))
		return nil
	}
	if !active.CompareAndSwap(nil, s) {
		s.mu.Unlock()
		s.logger.Warn("bridge start refused", "err", ErrInstanceActive)
		return ErrInstanceActive
	}
	s.state = StateStarting

	port, err := s.openLocked(ctx)
	if err != nil {
		s.state = StateStopped
		active.CompareAndSwap(s, nil)
		s.mu.Unlock()
		s.reportStartFailure(err)
		return err
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("bridge server listening", "port", port)
	s.observe(true)
	s.notify(LevelInfo, fmt.Sprintf("Bridge Connector started on port %d", port))
	return nil
}

func (s *Server) openLocked(ctx context.Context) (int, error) {
	if s.opts.Config == nil {
		return 0, &ConfigurationError{Reason: "no configuration provider"}
	}
	settings, err := s.opts.Config.BridgeSettings()
	if err != nil {
		return 0, &ConfigurationError{Reason: "failed to load bridge settings: " + err.Error(), Err: err}
	}
	if settings.Secret == "" {
		return 0, &ConfigurationError{Reason: "VSCODE_API_KEY is not set in the workspace .env file"}
	}
	host := settings.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if !isLoopbackHost(host) {
		return 0, &ConfigurationError{Reason: fmt.Sprintf("bridge host %q is not a loopback address", host)}
	}
	if settings.Port < 0 || settings.Port > 65535 {
		return 0, &ConfigurationError{Reason: fmt.Sprintf("bridge port %d is out of range", settings.Port)}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(settings.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return 0, newBindError(addr, err)
	}

	handler := NewHandler(HandlerOptions{
		Secret:          settings.Secret,
		Dispatcher:      s.opts.Dispatcher,
		EditorLink:      s.opts.EditorLink,
		Version:         s.opts.Version,
		Logger:          s.logger,
		BodyReadTimeout: s.opts.BodyReadTimeout,
	})
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	if closer, ok := s.opts.EditorLink.(interface{ CloseAll() }); ok {
		srv.RegisterOnShutdown(closer.CloseAll)
	}

	s.gen++
	gen := s.gen
	s.srv = srv
	s.ln = ln
	s.secret = settings.Secret
	s.port = ln.Addr().(*net.TCPAddr).Port

	s.wg.Add(1)
	go s.serve(srv, ln, gen)
	return s.port, nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, gen uint64) {
	defer s.wg.Done()
	err := srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.mu.Unlock()

	s.logger.Error("bridge server stopped unexpectedly", "err", err)
	s.observe(false)
	s.notify(LevelError, "Bridge Connector server error: "+err.Error())
}

// Stop is idempotent. In-flight requests get the shutdown grace period before
// their connections are closed.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	srv := s.srv
	s.gen++
	s.resetLocked()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		err = srv.Shutdown(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("bridge graceful shutdown incomplete", "err", err)
			err = srv.Close()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.logger.Info("bridge server stopped")
	s.observe(false)
	s.notify(LevelInfo, "Bridge Connector stopped")
	return err
}

func (s *Server) resetLocked() {
	s.state = StateStopped
	s.srv = nil
	s.ln = nil
	s.secret = ""
	s.port = 0
	active.CompareAndSwap(s, nil)
}

func (s *Server) reportStartFailure(err error) {
	var cfgErr *ConfigurationError
	var bindErr *BindError
	switch {
	case errors.As(err, &cfgErr):
		s.logger.Error("bridge configuration error", "err", err)
		s.notify(LevelError, "Bridge Connector configuration error: "+cfgErr.Reason)
	case errors.As(err, &bindErr):
		s.logger.Error("bridge bind failed", "addr", bindErr.Addr, "kind", string(bindErr.Kind), "err", bindErr.Err)
		s.notify(LevelError, "Failed to start Bridge Connector: "+bindErr.Hint())
	default:
		s.logger.Error("bridge start failed", "err", err)
		s.notify(LevelError, "Failed to start Bridge Connector: "+err.Error())
	}
	s.observe(false)
}

func (s *Server) notify(level Level, message string) {
	s.opts.Notifier.Notify(level, message)
}

func (s *Server) observe(running bool) {
	if s.opts.OnStatusChange != nil {
		s.opts.OnStatusChange(running)
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
