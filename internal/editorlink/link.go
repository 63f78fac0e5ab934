package editorlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"bridgeconnector/internal/bridge"
	"bridgeconnector/internal/dispatch"
	"bridgeconnector/internal/protocol"
)

const (
	readLimitBytes int64 = 1 << 20 // 1 MiB
	eventWriteTimeout    = 2 * time.Second
)

var (
	ErrNoEditor           = errors.New("no editor connected")
	ErrEditorDisconnected = errors.New("editor disconnected before responding")
)

// RemoteError is a failure reported by the editor while running a request.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("editor failed %s: %s", e.Op, e.Code)
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type callResult struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	peer *peer
	op   string
	ch   chan callResult
}

// Link relays bridge commands to the single connected editor and carries
// bridge events back to it.
type Link struct {
	logger *slog.Logger
	seq    atomic.Uint64

	mu      sync.Mutex
	current *peer
	pending map[string]*pendingCall
	status  *protocol.StatusPayload
	panel   *protocol.PanelConfigPayload
}

func New(lg *slog.Logger) *Link {
	if lg == nil {
		lg = slog.Default()
	}
	return &Link{logger: lg.With("module", "editorlink"), pending: map[string]*pendingCall{}}
}

func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		l.logger.Warn("editor websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimitBytes)
	p := &peer{conn: conn}
	if prev := l.attach(p); prev != nil {
		l.logger.Info("editor connection replaced")
		_ = prev.conn.Close(websocket.StatusGoingAway, "replaced by a newer editor connection")
	}
	defer l.detach(p)
	l.logger.Info("editor connected", "remote", r.RemoteAddr)
	l.sendSnapshot(p)

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				l.logger.Debug("editor read ended", "err", err)
			}
			return
		}
		l.handleInbound(p, data)
	}
}

func (l *Link) attach(p *peer) *peer {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.current
	l.current = p
	return prev
}

func (l *Link) detach(p *peer) {
	l.mu.Lock()
	if l.current == p {
		l.current = nil
	}
	var orphaned []*pendingCall
	for id, pc := range l.pending {
		if pc.peer == p {
			orphaned = append(orphaned, pc)
			delete(l.pending, id)
		}
	}
	l.mu.Unlock()

	for _, pc := range orphaned {
		pc.ch <- callResult{err: ErrEditorDisconnected}
	}
	_ = p.conn.Close(websocket.StatusNormalClosure, "")
	l.logger.Info("editor disconnected", "pending_failed", len(orphaned))
}

func (l *Link) handleInbound(p *peer, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Warn("invalid editor message", "err", err)
		return
	}
	switch msg.Type {
	case protocol.TypeResponse:
		l.mu.Lock()
		pc := l.pending[msg.ID]
		if pc != nil && pc.peer == p {
			delete(l.pending, msg.ID)
		} else {
			pc = nil
		}
		l.mu.Unlock()
		if pc == nil {
			l.logger.Debug("response for unknown request", "id", msg.ID)
			return
		}
		if msg.Error != nil {
			pc.ch <- callResult{err: &RemoteError{Op: pc.op, Code: msg.Error.Code, Message: msg.Error.Message}}
			return
		}
		pc.ch <- callResult{payload: msg.Payload}
	case protocol.TypeEvent:
		if msg.Op == protocol.OpHello {
			l.logger.Info("editor hello", "payload", string(msg.Payload))
			return
		}
		l.logger.Debug("editor event ignored", "op", msg.Op)
	default:
		l.logger.Debug("editor message ignored", "type", msg.Type, "op", msg.Op)
	}
}

func (l *Link) call(ctx context.Context, op string, payload any) (any, error) {
	l.mu.Lock()
	p := l.current
	if p == nil {
		l.mu.Unlock()
		return nil, ErrNoEditor
	}
	id := uuid.NewString()
	pc := &pendingCall{peer: p, op: op, ch: make(chan callResult, 1)}
	l.pending[id] = pc
	l.mu.Unlock()

	msg := protocol.Message{ID: id, Type: protocol.TypeRequest, Op: op, Payload: protocol.MustRaw(payload)}
	if err := l.write(ctx, p, msg); err != nil {
		l.forget(id)
		return nil, fmt.Errorf("send %s to editor: %w", op, err)
	}

	select {
	case res := <-pc.ch:
		if res.err != nil {
			return nil, res.err
		}
		return protocol.DecodeResult(res.payload)
	case <-ctx.Done():
		l.forget(id)
		return nil, ctx.Err()
	}
}

func (l *Link) forget(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *Link) write(ctx context.Context, p *peer, msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(ctx, websocket.MessageText, b)
}

func (l *Link) ExecuteCommand(ctx context.Context, command string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return l.call(ctx, protocol.OpExecuteCommand, protocol.ExecutePayload{Command: command, Args: args})
}

func (l *Link) ShowMessage(ctx context.Context, severity dispatch.Severity, message string, actions []any) (any, error) {
	if actions == nil {
		actions = []any{}
	}
	return l.call(ctx, protocol.OpShowMessage, protocol.ShowMessagePayload{
		Severity: string(severity),
		Message:  message,
		Actions:  actions,
	})
}

func (l *Link) ShowOpenDialog(ctx context.Context, options map[string]any) (any, error) {
	if options == nil {
		options = map[string]any{}
	}
	return l.call(ctx, protocol.OpShowOpenDialog, protocol.OpenDialogPayload{Options: options})
}

// Notify forwards a bridge notice to the editor. Without an editor it is a no-op.
func (l *Link) Notify(level bridge.Level, message string) {
	l.publish(protocol.OpNotice, protocol.NoticePayload{Level: string(level), Message: message})
}

func (l *Link) PublishStatus(running bool) {
	st := protocol.StatusPayload{Running: running}
	l.mu.Lock()
	l.status = &st
	l.mu.Unlock()
	l.publish(protocol.OpStatus, st)
}

func (l *Link) PublishPanelConfig(url, title string) {
	cfg := protocol.PanelConfigPayload{URL: url, Title: title}
	l.mu.Lock()
	l.panel = &cfg
	l.mu.Unlock()
	l.publish(protocol.OpPanelConfig, cfg)
}

func (l *Link) publish(op string, payload any) {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p == nil {
		return
	}
	l.writeEvent(p, op, payload)
}

func (l *Link) writeEvent(p *peer, op string, payload any) {
	msg := protocol.Message{
		ID:      fmt.Sprintf("evt_%d", l.seq.Add(1)),
		Type:    protocol.TypeEvent,
		Op:      op,
		Payload: protocol.MustRaw(payload),
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	if err := l.write(ctx, p, msg); err != nil {
		l.logger.Debug("editor event write failed", "op", op, "err", err)
	}
}

func (l *Link) sendSnapshot(p *peer) {
	l.mu.Lock()
	status, panel := l.status, l.panel
	l.mu.Unlock()
	if status != nil {
		l.writeEvent(p, protocol.OpStatus, *status)
	}
	if panel != nil {
		l.writeEvent(p, protocol.OpPanelConfig, *panel)
	}
}

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// CloseAll drops the editor connection. Registered as an http.Server shutdown hook.
func (l *Link) CloseAll() {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p != nil {
		_ = p.conn.Close(websocket.StatusGoingAway, "bridge stopping")
	}
}
