package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"

	"bridgeconnector/internal/alias"
	"bridgeconnector/internal/auth"
	"bridgeconnector/internal/dispatch"
)

const (
	// MaxBodyBytes caps /command request bodies.
	MaxBodyBytes           = 10000
	DefaultBodyReadTimeout = 30 * time.Second
)

var processStart = time.Now()

type CommandDispatcher interface {
	Dispatch(ctx context.Context, env dispatch.Envelope) (dispatch.Result, error)
}

type HandlerOptions struct {
	Secret          string
	Dispatcher      CommandDispatcher
	EditorLink      http.Handler
	Version         string
	Logger          *slog.Logger
	BodyReadTimeout time.Duration
}

type handler struct {
	secret      string
	dispatcher  CommandDispatcher
	version     string
	logger      *slog.Logger
	bodyTimeout time.Duration
	router      *httprouter.Router
	routes      []string
	now         func() time.Time
}

type timestampKey struct{}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type notFoundBody struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	Timestamp       string   `json:"timestamp"`
	AvailableRoutes []string `json:"availableRoutes"`
}

type executionErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
	Success   bool   `json:"success"`
}

type healthBody struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

// NewHandler builds the bridge HTTP surface for one running secret.
func NewHandler(opts HandlerOptions) http.Handler {
	h := &handler{
		secret:      opts.Secret,
		dispatcher:  opts.Dispatcher,
		version:     opts.Version,
		logger:      opts.Logger,
		bodyTimeout: opts.BodyReadTimeout,
		now:         time.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.version == "" {
		h.version = "dev"
	}
	if h.bodyTimeout == 0 {
		h.bodyTimeout = DefaultBodyReadTimeout
	}

	r := httprouter.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.HandleOPTIONS = false
	r.GET("/health", h.handleHealth)
	r.POST("/command", h.requireAuth(h.handleCommand))
	h.routes = []string{
		"GET /health - Health check (no auth required)",
		"POST /command - Execute editor command (requires x-vscode-key header)",
	}
	if opts.EditorLink != nil {
		link := opts.EditorLink
		r.GET("/ws/editor", h.requireAuth(func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
			link.ServeHTTP(w, req)
		}))
		h.routes = append(h.routes, "GET /ws/editor - Editor link WebSocket (requires x-vscode-key header)")
	}
	r.NotFound = http.HandlerFunc(h.handleNotFound)
	r.PanicHandler = h.handlePanic
	h.router = r
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts := dispatch.Timestamp(h.now())
	r = r.WithContext(context.WithValue(r.Context(), timestampKey{}, ts))
	h.logger.Info("request received",
		"method", r.Method,
		"path", r.URL.Path,
		"user_agent", userAgent(r),
		"remote", r.RemoteAddr,
	)

	w = &trackingWriter{ResponseWriter: w}
	setCORSHeaders(w.Header())

	if r.Method == http.MethodPost && r.ContentLength > MaxBodyBytes {
		w.Header().Set("Connection", "close")
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error:     "Request too large",
			Message:   "Request body exceeds 10KB limit",
			Timestamp: ts,
		})
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.router.ServeHTTP(w, r)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: timestampFrom(r),
		Uptime:    int64(time.Since(processStart).Seconds()),
	})
}

func (h *handler) requireAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !h.authorized(r) {
			h.respondUnauthorized(w, r)
			return
		}
		next(w, r, ps)
	}
}

func (h *handler) authorized(r *http.Request) bool {
	return auth.IsAuthorized(r.Header.Values(auth.HeaderName), h.secret)
}

func (h *handler) respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("unauthorized request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error:     "Unauthorized",
		Message:   "Invalid or missing API key",
		Timestamp: timestampFrom(r),
	})
}

func (h *handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.respondUnauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusNotFound, notFoundBody{
		Error:           "Not Found",
		Message:         fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
		Timestamp:       timestampFrom(r),
		AvailableRoutes: append([]string{}, h.routes...),
	})
}

func (h *handler) handleCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ts := timestampFrom(r)

	body, err := h.readBody(w, r)
	if err != nil {
		// The rest of the body is unread; net/http must not try to drain it.
		w.Header().Set("Connection", "close")
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Request too large", Message: "Request body exceeds 10KB limit", Timestamp: ts})
		case isTimeout(err):
			h.logger.Warn("request body read timed out", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusRequestTimeout, errorBody{Error: "Request Timeout", Message: "Request body was not received in time", Timestamp: ts})
		default:
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "body_read_failed", Message: "Failed to read request body", Timestamp: ts})
		}
		return
	}

	env, err := dispatch.ParseEnvelope(body)
	if err != nil {
		var perr *dispatch.PayloadError
		if !errors.As(err, &perr) {
			perr = &dispatch.PayloadError{Code: dispatch.CodeInvalidJSON, Message: err.Error()}
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: perr.Code, Message: perr.Message, Timestamp: ts})
		return
	}

	if h.dispatcher == nil {
		writeJSON(w, http.StatusInternalServerError, executionErrorBody{
			Error:     "execution_failed",
			Message:   "command dispatcher is not configured",
			Command:   alias.Resolve(env.Command),
			Timestamp: ts,
		})
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), env)
	if err != nil {
		command := alias.Resolve(env.Command)
		var execErr *dispatch.ExecutionError
		if errors.As(err, &execErr) && execErr.Command != "" {
			command = execErr.Command
		}
		h.logger.Error("command execution error", "command", command, "err", err)
		writeJSON(w, http.StatusInternalServerError, executionErrorBody{
			Error:     "execution_failed",
			Message:   err.Error(),
			Command:   command,
			Timestamp: ts,
		})
		return
	}
	if res.Timestamp == "" {
		res.Timestamp = ts
	}
	writeJSON(w, http.StatusOK, res)
}

// readBody waits for the complete body under a read deadline, then clears the
// deadline so command execution itself is not time-bounded.
func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(h.now().Add(h.bodyTimeout)); err == nil {
		defer func() { _ = rc.SetReadDeadline(time.Time{}) }()
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
}

func (h *handler) handlePanic(w http.ResponseWriter, r *http.Request, v any) {
	h.logger.Error("request handler panic", "path", r.URL.Path, "panic", fmt.Sprint(v))
	if tw, ok := w.(*trackingWriter); ok && tw.wroteHeader {
		// Part of a response is already out; drop the connection instead.
		panic(http.ErrAbortHandler)
	}
	writeJSON(w, http.StatusInternalServerError, executionErrorBody{
		Error:     "execution_failed",
		Message:   fmt.Sprint(v),
		Timestamp: timestampFrom(r),
	})
}

// trackingWriter remembers whether a response has started.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController and websocket.Accept reach the
// underlying writer for deadlines and hijacking.
func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+auth.HeaderName)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func timestampFrom(r *http.Request) string {
	if ts, ok := r.Context().Value(timestampKey{}).(string); ok {
		return ts
	}
	return dispatch.Timestamp(time.Now())
}

func userAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
