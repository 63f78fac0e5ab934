package panel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bridgeconnector/internal/envfile"
)

//go:embed assets
var embedded embed.FS

// PublicDir is where a workspace may override the embedded panel files.
func PublicDir(workspace string) string {
	return filepath.Join(workspace, "main-panel", "public")
}

// Config is served as /config.json for the panel page.
type Config struct {
	Title          string `json:"title"`
	BridgePort     int    `json:"bridgePort"`
	BridgeHost     string `json:"bridgeHost"`
	BridgeProtocol string `json:"bridgeProtocol"`
	APIKey         string `json:"apiKey"`
	MainPanelPort  int    `json:"mainPanelPort"`
}

func BuildConfig(v envfile.Values) Config {
	return Config{
		Title:          v.PanelTitleOrDefault(),
		BridgePort:     v.BridgePortOrDefault(),
		BridgeHost:     v.BridgeHostOrDefault(),
		BridgeProtocol: v.BridgeProtocolOrDefault(),
		APIKey:         v.APIKey,
		MainPanelPort:  v.MainPanelPortOrDefault(),
	}
}

// AssetsFS returns the built-in panel files.
func AssetsFS() fs.FS {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

type handler struct {
	workspace string
	files     fs.FS
	logger    *slog.Logger
}

// NewHandler serves /config.json and the panel's static files. Files come from
// the workspace's main-panel/public directory when it exists.
func NewHandler(workspace string, lg *slog.Logger) http.Handler {
	if lg == nil {
		lg = slog.Default()
	}
	files := AssetsFS()
	if st, err := os.Stat(PublicDir(workspace)); err == nil && st.IsDir() {
		files = os.DirFS(PublicDir(workspace))
	}
	return &handler{workspace: workspace, files: files, logger: lg.With("module", "panel")}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	if r.URL.Path == "/config.json" {
		h.serveConfig(w)
		return
	}
	h.serveFile(w, r)
}

func (h *handler) serveConfig(w http.ResponseWriter) {
	values, err := envfile.Read(h.workspace)
	if err != nil {
		h.logger.Warn("panel config read failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(BuildConfig(values))
}

func (h *handler) serveFile(w http.ResponseWriter, r *http.Request) {
	for _, seg := range strings.Split(r.URL.Path, "/") {
		if seg == ".." {
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	st, err := fs.Stat(h.files, name)
	if err == nil && st.IsDir() {
		name = path.Join(name, "index.html")
		st, err = fs.Stat(h.files, name)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeText(w, http.StatusNotFound, "Not Found")
			return
		}
		h.logger.Warn("panel file stat failed", "file", name, "err", err)
		writeText(w, http.StatusInternalServerError, "Server Error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFileFS(w, r, h.files, name)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// Run serves the panel on 127.0.0.1:port until ctx ends.
func Run(ctx context.Context, workspace string, port int, lg *slog.Logger) error {
	if lg == nil {
		lg = slog.Default()
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, workspace, lg)
}

// Serve runs the panel server on ln until ctx ends.
func Serve(ctx context.Context, ln net.Listener, workspace string, lg *slog.Logger) error {
	srv := &http.Server{
		Handler:           NewHandler(workspace, lg),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(lg.Handler(), slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	lg.Info("main panel listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}
