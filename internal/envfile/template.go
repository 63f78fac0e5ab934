package envfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var ErrExists = errors.New(".env already exists")

// TemplateValues returns the entries a fresh workspace starts with.
func TemplateValues(apiKey string) map[string]string {
	return map[string]string{
		KeyAPIKey:      apiKey,
		KeyBridgePort:  strconv.Itoa(DefaultBridgePort),
		KeyBridgeHost:  DefaultBridgeHost,
		KeyBridgeProto: "http",
		KeyPanelPort:   strconv.Itoa(DefaultPanelPort),
		KeyPanelURL:    fmt.Sprintf("http://127.0.0.1:%d", DefaultPanelPort),
		KeyPanelTitle:  DefaultPanelTitle,
	}
}

// WriteTemplate writes <workspace>/.env. Without force an existing file is
// left alone and ErrExists is returned.
func WriteTemplate(workspace, apiKey string, force bool) error {
	path := Path(workspace)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return ErrExists
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	if err := godotenv.Write(TemplateValues(apiKey), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
