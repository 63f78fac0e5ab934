package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bridgeconnector/internal/dispatch"
)

const testSecret = "s3cret"

type stubExecutor struct {
	commands []string
	result   any
	err      error
}

func (s *stubExecutor) ExecuteCommand(_ context.Context, command string, _ []any) (any, error) {
	s.commands = append(s.commands, command)
	return s.result, s.err
}

func (s *stubExecutor) ShowMessage(_ context.Context, _ dispatch.Severity, message string, _ []any) (any, error) {
	s.commands = append(s.commands, "message:"+message)
	return s.result, s.err
}

func (s *stubExecutor) ShowOpenDialog(_ context.Context, _ map[string]any) (any, error) {
	s.commands = append(s.commands, "dialog")
	return s.result, s.err
}

type panicReader struct{ t *testing.T }

func (p panicReader) Read([]byte) (int, error) {
	p.t.Fatalf("oversized body must not be read")
	return 0, io.EOF
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestHandler(exec dispatch.Executor) http.Handler {
	return NewHandler(HandlerOptions{
		Secret:     testSecret,
		Dispatcher: dispatch.New(exec, dispatch.WithLogger(quietLogger())),
		Version:    "1.2.3",
		Logger:     quietLogger(),
	})
}

func doRequest(h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("x-vscode-key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return out
}

func TestHandler_HealthNeedsNoKey(t *testing.T) {
	rec := doRequest(newTestHandler(&stubExecutor{}), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if _, ok := body["uptime"].(float64); !ok {
		t.Fatalf("expected numeric uptime: %v", body)
	}
	ts, _ := body["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil || !strings.HasSuffix(ts, "Z") {
		t.Fatalf("unexpected timestamp %q", ts)
	}
}

func TestHandler_CommandRequiresKey(t *testing.T) {
	exec := &stubExecutor{result: "ok"}
	h := newTestHandler(exec)

	for _, key := range []string{"", "wrong", "S3CRET", "s3cret "} {
		rec := doRequest(h, http.MethodPost, "/command", key, `{"command":"x"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401, got %d", key, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["error"] != "Unauthorized" || body["message"] != "Invalid or missing API key" {
			t.Fatalf("key %q: unexpected body %v", key, body)
		}
	}
	if len(exec.commands) != 0 {
		t.Fatalf("unauthorized requests must not execute, got %v", exec.commands)
	}

	rec := doRequest(h, http.MethodPost, "/command", testSecret, `{"command":"x"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UsesFirstKeyHeaderValue(t *testing.T) {
	h := newTestHandler(&stubExecutor{})
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"command":"x"}`))
	req.Header.Add("x-vscode-key", "wrong")
	req.Header.Add("x-vscode-key", testSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_AliasRoundTrip(t *testing.T) {
	exec := &stubExecutor{result: "pong"}
	rec := doRequest(newTestHandler(exec), http.MethodPost, "/command", testSecret, `{"command":"health.ping","args":["x"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["command"] != "bridge.ping" || body["result"] != "pong" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(exec.commands) != 1 || exec.commands[0] != "bridge.ping" {
		t.Fatalf("unexpected executions: %v", exec.commands)
	}
}

func TestHandler_NilResultIsNull(t *testing.T) {
	rec := doRequest(newTestHandler(&stubExecutor{}), http.MethodPost, "/command", testSecret, `{"command":"workbench.action.files.saveAll"}`)
	if !strings.Contains(rec.Body.String(), `"result":null`) {
		t.Fatalf("expected null result, got %s", rec.Body.String())
	}
}

func TestHandler_PayloadErrors(t *testing.T) {
	cases := map[string]string{
		"":                   "empty_body",
		"{oops":              "invalid_json",
		`[1,2]`:              "invalid_payload_shape",
		`{"args":["x"]}`:     "missing_command",
		`{"command":""}`:     "missing_command",
		`{"command":"x"} {}`: "invalid_json",
	}
	for body, code := range cases {
		exec := &stubExecutor{}
		rec := doRequest(newTestHandler(exec), http.MethodPost, "/command", testSecret, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		got := decodeBody(t, rec)
		if got["error"] != code {
			t.Fatalf("body %q: expected %s, got %v", body, code, got["error"])
		}
		if len(exec.commands) != 0 {
			t.Fatalf("body %q: nothing should execute", body)
		}
	}
}

func TestHandler_ExecutionFailure(t *testing.T) {
	exec := &stubExecutor{err: errors.New("command 'nope' not found")}
	rec := doRequest(newTestHandler(exec), http.MethodPost, "/command", testSecret, `{"command":"nope"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "execution_failed" || body["message"] != "command 'nope' not found" || body["command"] != "nope" || body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(exec.commands) != 1 {
		t.Fatalf("expected a single attempt, got %v", exec.commands)
	}
}

func TestHandler_DeclaredOversizeRejectedUnread(t *testing.T) {
	exec := &stubExecutor{}
	h := newTestHandler(exec)
	req := httptest.NewRequest(http.MethodPost, "/command", panicReader{t: t})
	req.ContentLength = 20000
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Request too large" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(exec.commands) != 0 {
		t.Fatalf("oversized request must not execute")
	}
}

func TestHandler_UndeclaredOversizeCapped(t *testing.T) {
	payload := `{"command":"x","args":["` + strings.Repeat("a", 20000) + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(payload))
	req.ContentLength = -1
	req.Header.Set("x-vscode-key", testSecret)
	rec := httptest.NewRecorder()
	newTestHandler(&stubExecutor{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHandler_BodyAtLimitAccepted(t *testing.T) {
	prefix := `{"command":"x","args":["`
	suffix := `"]}`
	payload := prefix + strings.Repeat("a", MaxBodyBytes-len(prefix)-len(suffix)) + suffix
	rec := doRequest(newTestHandler(&stubExecutor{}), http.MethodPost, "/command", testSecret, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a body of exactly %d bytes, got %d", MaxBodyBytes, rec.Code)
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	h := newTestHandler(&stubExecutor{})

	rec := doRequest(h, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated unknown route: expected 401, got %d", rec.Code)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/command"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/command/"},
		{http.MethodDelete, "/command"},
	} {
		rec := doRequest(h, tc.method, tc.path, testSecret, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["error"] != "Not Found" {
			t.Fatalf("%s %s: unexpected body %v", tc.method, tc.path, body)
		}
		routes, _ := body["availableRoutes"].([]any)
		if len(routes) != 2 {
			t.Fatalf("%s %s: expected two listed routes, got %v", tc.method, tc.path, routes)
		}
		if !strings.Contains(body["message"].(string), tc.path) {
			t.Fatalf("%s %s: message should name the route: %v", tc.method, tc.path, body["message"])
		}
	}
}

func TestHandler_EditorLinkRouteListed(t *testing.T) {
	var hits int
	link := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	})
	h := NewHandler(HandlerOptions{Secret: testSecret, EditorLink: link, Logger: quietLogger()})

	if rec := doRequest(h, http.MethodGet, "/ws/editor", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/ws/editor", testSecret, ""); rec.Code != http.StatusTeapot || hits != 1 {
		t.Fatalf("expected link handler to serve, got %d (hits=%d)", rec.Code, hits)
	}
	body := decodeBody(t, doRequest(h, http.MethodGet, "/missing", testSecret, ""))
	if routes, _ := body["availableRoutes"].([]any); len(routes) != 3 {
		t.Fatalf("expected three listed routes, got %v", body["availableRoutes"])
	}
}

func TestHandler_OptionsPreflight(t *testing.T) {
	h := newTestHandler(&stubExecutor{})
	for _, path := range []string{"/command", "/health", "/anything"} {
		rec := doRequest(h, http.MethodOptions, path, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("%s: expected empty body, got %q", path, rec.Body.String())
		}
	}
}

func TestHandler_CORSOnEveryResponse(t *testing.T) {
	h := newTestHandler(&stubExecutor{err: errors.New("boom")})
	responses := []*httptest.ResponseRecorder{
		doRequest(h, http.MethodGet, "/health", "", ""),
		doRequest(h, http.MethodOptions, "/command", "", ""),
		doRequest(h, http.MethodPost, "/command", "", `{"command":"x"}`),
		doRequest(h, http.MethodPost, "/command", testSecret, `nope`),
		doRequest(h, http.MethodPost, "/command", testSecret, `{"command":"x"}`),
		doRequest(h, http.MethodGet, "/missing", testSecret, ""),
	}
	for i, rec := range responses {
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("response %d missing allow-origin", i)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
			t.Fatalf("response %d unexpected allow-methods %q", i, rec.Header().Get("Access-Control-Allow-Methods"))
		}
		if rec.Header().Get("Access-Control-Allow-Headers") != "Content-Type, x-vscode-key" {
			t.Fatalf("response %d unexpected allow-headers %q", i, rec.Header().Get("Access-Control-Allow-Headers"))
		}
	}
}

func TestHandler_NeverLogsSecret(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewHandler(HandlerOptions{
		Secret:     testSecret,
		Dispatcher: dispatch.New(&stubExecutor{}, dispatch.WithLogger(lg)),
		Logger:     lg,
	})
	doRequest(h, http.MethodPost, "/command", testSecret, `{"command":"x"}`)
	doRequest(h, http.MethodPost, "/command", "s3cret-guess", `{"command":"x"}`)
	if strings.Contains(buf.String(), "s3cret") {
		t.Fatalf("log output leaked the key: %s", buf.String())
	}
}

func TestHandler_BodyReadTimeout(t *testing.T) {
	exec := &stubExecutor{}
	srv := httptest.NewServer(NewHandler(HandlerOptions{
		Secret:          testSecret,
		Dispatcher:      dispatch.New(exec, dispatch.WithLogger(quietLogger())),
		Logger:          quietLogger(),
		BodyReadTimeout: 100 * time.Millisecond,
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	partial := "POST /command HTTP/1.1\r\n" +
		"Host: 127.0.0.1\r\n" +
		"x-vscode-key: " + testSecret + "\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 100\r\n\r\n" +
		`{"command":`
	if _, err := conn.Write([]byte(partial)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	started := time.Now()
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	defer resp.Body.Close()
	if waited := time.Since(started); waited > 2*time.Second {
		t.Fatalf("408 took %s", waited)
	}

	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", resp.StatusCode)
	}
	if !resp.Close {
		t.Fatalf("408 must close the connection")
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["error"] != "Request Timeout" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(exec.commands) != 0 {
		t.Fatalf("timed out request must not execute")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestHandler_BodyReadFailureClosesConnection(t *testing.T) {
	exec := &stubExecutor{}
	req := httptest.NewRequest(http.MethodPost, "/command", failingReader{})
	req.Header.Set("x-vscode-key", testSecret)
	rec := httptest.NewRecorder()
	newTestHandler(exec).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Header().Get("Connection") != "close" {
		t.Fatalf("expected Connection: close, got %q", rec.Header().Get("Connection"))
	}
	if body := decodeBody(t, rec); body["error"] != "body_read_failed" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(exec.commands) != 0 {
		t.Fatalf("failed read must not execute")
	}
}

func TestHandler_PanicBeforeResponseIs500(t *testing.T) {
	link := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := NewHandler(HandlerOptions{Secret: testSecret, EditorLink: link, Logger: quietLogger()})

	rec := doRequest(h, http.MethodGet, "/ws/editor", testSecret, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "execution_failed" || body["message"] != "boom" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHandler_PanicAfterResponseStartedAborts(t *testing.T) {
	link := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	})
	h := NewHandler(HandlerOptions{Secret: testSecret, EditorLink: link, Logger: quietLogger()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/editor", nil)
	req.Header.Set("x-vscode-key", testSecret)
	func() {
		defer func() {
			if v := recover(); v != http.ErrAbortHandler {
				t.Fatalf("expected http.ErrAbortHandler, got %v", v)
			}
		}()
		h.ServeHTTP(rec, req)
	}()
	if rec.Code != http.StatusAccepted || rec.Body.String() != "partial" {
		t.Fatalf("started response must not be rewritten: %d %q", rec.Code, rec.Body.String())
	}
}
