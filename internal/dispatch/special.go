package dispatch

import (
	"encoding/json"
	"fmt"

	"bridgeconnector/internal/alias"
)

// Special enumerates commands whose native signature is not a flat argument list.
type Special int

const (
	Passthrough Special = iota
	InfoMessage
	WarningMessage
	ErrorMessage
	OpenDialog
)

// Severity is the level of a message dialog shown by the editor.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func Classify(canonical string) Special {
	switch canonical {
	case alias.ShowInformationMessage:
		return InfoMessage
	case alias.ShowWarningMessage:
		return WarningMessage
	case alias.ShowErrorMessage:
		return ErrorMessage
	case alias.ShowOpenDialog:
		return OpenDialog
	default:
		return Passthrough
	}
}

func (s Special) String() string {
	switch s {
	case InfoMessage:
		return "info_message"
	case WarningMessage:
		return "warning_message"
	case ErrorMessage:
		return "error_message"
	case OpenDialog:
		return "open_dialog"
	default:
		return "passthrough"
	}
}

func (s Special) severity() (Severity, string) {
	switch s {
	case WarningMessage:
		return SeverityWarning, "Warning"
	case ErrorMessage:
		return SeverityError, "Error"
	default:
		return SeverityInfo, "Message"
	}
}

// messageArgs splits args into the dialog text and its action labels.
func messageArgs(args []any, fallback string) (string, []any) {
	if len(args) == 0 {
		return fallback, []any{}
	}
	return stringify(args[0]), append([]any{}, args[1:]...)
}

// dialogOptions returns args[0] when it is a JSON object, otherwise empty options.
func dialogOptions(args []any) map[string]any {
	if len(args) > 0 {
		if opts, ok := args[0].(map[string]any); ok {
			return opts
		}
	}
	return map[string]any{}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
