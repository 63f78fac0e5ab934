package application

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bridgeconnector/internal/bridge"
)

func pickFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen random port failed: %v", err)
	}
	defer func() { _ = ln.Close() }()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatal("unexpected addr type")
	}
	return addr.Port
}

func writeWorkspaceEnv(t *testing.T, workspace string, kv ...string) {
	t.Helper()
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, "%s=%s\n", kv[i], kv[i+1])
	}
	if err := os.WriteFile(filepath.Join(workspace, ".env"), []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write .env failed: %v", err)
	}
}

func writeSettings(t *testing.T, configDir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(configDir, "settings.toml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write settings failed: %v", err)
	}
}

type noticeLog struct {
	mu       sync.Mutex
	messages []string
}

func (n *noticeLog) Notify(_ bridge.Level, message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *noticeLog) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type testRuntime struct {
	workspace string
	configDir string
	panel     bool
	notices   *noticeLog
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()
	return &testRuntime{workspace: t.TempDir(), configDir: t.TempDir(), notices: &noticeLog{}}
}

// start builds the application and runs it until the test ends.
func (rt *testRuntime) start(t *testing.T) *Application {
	t.Helper()
	app, err := StartApplication(context.Background(), StartOptions{
		Workspace:     rt.workspace,
		ConfigDir:     rt.configDir,
		LogWriter:     io.Discard,
		Version:       "9.9.9",
		Panel:         rt.panel,
		ShutdownGrace: time.Second,
		Hooks:         Hooks{Notifier: rt.notices},
	})
	if err != nil {
		t.Fatalf("StartApplication failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- app.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-runDone:
			if err != nil {
				t.Errorf("app run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("app run goroutine did not exit")
		}
		_ = app.Shutdown(context.Background())
	})
	return app
}
