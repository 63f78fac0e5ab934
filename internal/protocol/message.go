package protocol

import (
	"bytes"
	"encoding/json"
)

const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Requests sent from the bridge to the editor.
const (
	OpExecuteCommand = "command.execute"
	OpShowMessage    = "window.showMessage"
	OpShowOpenDialog = "window.showOpenDialog"
)

// Events sent from the bridge to the editor.
const (
	OpNotice      = "bridge.notice"
	OpStatus      = "bridge.status"
	OpPanelConfig = "panel.config"
	OpHello       = "editor.hello"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ExecutePayload struct {
	Command string `json:"command"`
	Args    []any  `json:"args"`
}

type ShowMessagePayload struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Actions  []any  `json:"actions"`
}

type OpenDialogPayload struct {
	Options map[string]any `json:"options"`
}

type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type StatusPayload struct {
	Running bool `json:"running"`
}

type PanelConfigPayload struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// DecodeResult unpacks a response payload. Missing payloads decode to nil.
func DecodeResult(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
