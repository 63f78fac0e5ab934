package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bridgeconnector/internal/auth"
)

// Result mirrors a successful /command response.
type Result struct {
	Success   bool   `json:"success"`
	Command   string `json:"command"`
	Result    any    `json:"result"`
	Timestamp string `json:"timestamp"`
}

type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

// StatusError is a non-2xx bridge response.
type StatusError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	Command    string `json:"command,omitempty"`
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("bridge returned %d", e.StatusCode)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// BaseURL builds the bridge address from its parts.
func BaseURL(protocol, host string, port int) string {
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, host, port)
}

// Execute posts a command envelope. args is sent as-is; nil omits it.
func (c *Client) Execute(ctx context.Context, command string, args any) (Result, error) {
	envelope := map[string]any{"command": command}
	if args != nil {
		envelope["args"] = args
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/command", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderName, c.apiKey)

	var out Result
	if err := c.do(req, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	var out Health
	if err := c.do(req, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if res.StatusCode != http.StatusOK {
		serr := &StatusError{StatusCode: res.StatusCode}
		_ = dec.Decode(serr)
		serr.StatusCode = res.StatusCode
		return serr
	}
	return dec.Decode(out)
}
