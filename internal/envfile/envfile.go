package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	FileName = ".env"

	KeyAPIKey        = "VSCODE_API_KEY"
	KeyPanelURL      = "MAIN_PANEL_URL"
	KeyPanelTitle    = "MAIN_PANEL_TITLE"
	KeyBridgePort    = "BRIDGE_PORT"
	KeyBridgePortAlt = "BRIDGE_CONNECTOR_PORT"
	KeyBridgeHost    = "BRIDGE_HOST"
	KeyBridgeProto   = "BRIDGE_PROTOCOL"
	KeyPanelPort     = "MAIN_PANEL_PORT"

	DefaultBridgePort = 8282
	DefaultPanelPort  = 3000
	DefaultBridgeHost = "127.0.0.1"
	DefaultPanelTitle = "Main Panel"
)

// Values holds the workspace .env entries the bridge understands. Zero values
// mean the key is absent or unusable.
type Values struct {
	APIKey         string
	PanelURL       string
	PanelTitle     string
	BridgeHost     string
	BridgeProtocol string
	BridgePort     int
	MainPanelPort  int
}

func Path(workspace string) string {
	return filepath.Join(workspace, FileName)
}

// Read parses <workspace>/.env. A missing file yields empty Values.
func Read(workspace string) (Values, error) {
	if strings.TrimSpace(workspace) == "" {
		return Values{}, nil
	}
	env, err := godotenv.Read(Path(workspace))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Values{}, nil
		}
		return Values{}, fmt.Errorf("read %s: %w", Path(workspace), err)
	}
	return fromMap(env), nil
}

func fromMap(env map[string]string) Values {
	v := Values{
		APIKey:         strings.TrimSpace(env[KeyAPIKey]),
		PanelURL:       strings.TrimSpace(env[KeyPanelURL]),
		PanelTitle:     strings.TrimSpace(env[KeyPanelTitle]),
		BridgeHost:     strings.TrimSpace(env[KeyBridgeHost]),
		BridgeProtocol: strings.TrimSpace(env[KeyBridgeProto]),
		BridgePort:     parsePort(env[KeyBridgePort]),
		MainPanelPort:  parsePort(env[KeyPanelPort]),
	}
	if v.BridgePort == 0 {
		v.BridgePort = parsePort(env[KeyBridgePortAlt])
	}
	return v
}

func parsePort(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > 65535 {
		return 0
	}
	return n
}

func (v Values) BridgePortOrDefault() int {
	if v.BridgePort > 0 {
		return v.BridgePort
	}
	return DefaultBridgePort
}

func (v Values) BridgeHostOrDefault() string {
	if v.BridgeHost != "" {
		return v.BridgeHost
	}
	return DefaultBridgeHost
}

func (v Values) BridgeProtocolOrDefault() string {
	if v.BridgeProtocol != "" {
		return v.BridgeProtocol
	}
	return "http"
}

func (v Values) MainPanelPortOrDefault() int {
	if v.MainPanelPort > 0 {
		return v.MainPanelPort
	}
	return DefaultPanelPort
}

func (v Values) PanelTitleOrDefault() string {
	if v.PanelTitle != "" {
		return v.PanelTitle
	}
	return DefaultPanelTitle
}

// ForwardablePanelURL returns the panel URL only when it is an http(s) URL.
func (v Values) ForwardablePanelURL() string {
	if strings.HasPrefix(v.PanelURL, "http://") || strings.HasPrefix(v.PanelURL, "https://") {
		return v.PanelURL
	}
	return ""
}
