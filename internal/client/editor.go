package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"bridgeconnector/internal/auth"
	"bridgeconnector/internal/protocol"
)

// RequestHandler answers one bridge request on behalf of an editor.
type RequestHandler func(ctx context.Context, op string, payload json.RawMessage) (any, error)

// EditorSession is the editor side of the editor link.
type EditorSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	onEvent func(protocol.Message)
}

// EditorURL turns a bridge base URL into its editor-link WebSocket URL.
func EditorURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/editor"
}

func DialEditor(ctx context.Context, baseURL, apiKey string) (*EditorSession, error) {
	header := http.Header{}
	header.Set(auth.HeaderName, apiKey)
	conn, _, err := websocket.Dial(ctx, EditorURL(baseURL), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return &EditorSession{conn: conn}, nil
}

func (s *EditorSession) OnEvent(fn func(protocol.Message)) {
	s.onEvent = fn
}

// Hello announces the editor to the bridge.
func (s *EditorSession) Hello(ctx context.Context, name, version string) error {
	return s.write(ctx, protocol.Message{
		ID:      "hello",
		Type:    protocol.TypeEvent,
		Op:      protocol.OpHello,
		Payload: protocol.MustRaw(map[string]string{"name": name, "version": version}),
	})
}

// Serve answers requests until ctx ends or the bridge closes the link.
// Each request is handled on its own goroutine.
func (s *EditorSession) Serve(ctx context.Context, handle RequestHandler) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeRequest:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.answer(ctx, msg, handle)
			}()
		case protocol.TypeEvent:
			if s.onEvent != nil {
				s.onEvent(msg)
			}
		}
	}
}

func (s *EditorSession) answer(ctx context.Context, req protocol.Message, handle RequestHandler) {
	res := protocol.Message{ID: req.ID, Type: protocol.TypeResponse, Op: req.Op}
	result, err := handle(ctx, req.Op, req.Payload)
	if err != nil {
		res.Error = &protocol.ErrPayload{Code: "command_failed", Message: err.Error()}
	} else if result != nil {
		res.Payload = protocol.MustRaw(result)
	}
	_ = s.write(ctx, res)
}

func (s *EditorSession) write(ctx context.Context, msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

func (s *EditorSession) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
