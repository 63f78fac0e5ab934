package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	CodeEmptyBody           = "empty_body"
	CodeInvalidJSON         = "invalid_json"
	CodeInvalidPayloadShape = "invalid_payload_shape"
	CodeMissingCommand      = "missing_command"
)

// Envelope is a validated /command request body.
type Envelope struct {
	Command string
	Args    []any
}

// PayloadError describes why a request body could not become an Envelope.
type PayloadError struct {
	Code    string
	Message string
}

func (e *PayloadError) Error() string {
	return e.Code + ": " + e.Message
}

// ParseEnvelope decodes and validates a request body. Any returned error is a *PayloadError.
func ParseEnvelope(body []byte) (Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Envelope{}, &PayloadError{Code: CodeEmptyBody, Message: "Empty request body"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, &PayloadError{Code: CodeInvalidJSON, Message: "Request body must be valid JSON"}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Envelope{}, &PayloadError{Code: CodeInvalidJSON, Message: "Request body must contain a single JSON value"}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return Envelope{}, &PayloadError{Code: CodeInvalidPayloadShape, Message: "Request payload must be an object"}
	}

	command, ok := obj["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return Envelope{}, &PayloadError{Code: CodeMissingCommand, Message: "Missing or invalid command field"}
	}

	args, present := obj["args"]
	return Envelope{Command: command, Args: NormalizeArgs(args, present)}, nil
}

// NormalizeArgs coerces the args field into a positional list: absent becomes empty,
// a non-array value (null included) becomes a single element, an array is kept as is.
func NormalizeArgs(v any, present bool) []any {
	if !present {
		return []any{}
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
