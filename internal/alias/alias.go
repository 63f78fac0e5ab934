package alias

import "sort"

const (
	ShowInformationMessage = "vscode.window.showInformationMessage"
	ShowWarningMessage     = "vscode.window.showWarningMessage"
	ShowErrorMessage       = "vscode.window.showErrorMessage"
	ShowOpenDialog         = "vscode.window.showOpenDialog"
	ChatOpen               = "workbench.action.chat.open"
	BridgePing             = "bridge.ping"
	BridgeVersion          = "bridge.version"
)

// Canonical values must never appear as keys; Resolve relies on that to stay idempotent.
var table = map[string]string{
	"showInformationMessage":        ShowInformationMessage,
	"window.showInformationMessage": ShowInformationMessage,
	"showInfo":                      ShowInformationMessage,
	"showWarningMessage":            ShowWarningMessage,
	"window.showWarningMessage":     ShowWarningMessage,
	"showWarning":                   ShowWarningMessage,
	"showErrorMessage":              ShowErrorMessage,
	"window.showErrorMessage":       ShowErrorMessage,
	"showError":                     ShowErrorMessage,
	"showOpenDialog":                ShowOpenDialog,
	"window.showOpenDialog":         ShowOpenDialog,
	"chat.open":                     ChatOpen,
	"openChat":                      ChatOpen,
	"workbench.action.openChat":     ChatOpen,
	"workbench.panel.chat.open":     ChatOpen,
	"health.ping":                   BridgePing,
	"ping":                          BridgePing,
	"version":                       BridgeVersion,
	"saveAll":                       "workbench.action.files.saveAll",
	"newTerminal":                   "workbench.action.terminal.new",
	"toggleTerminal":                "workbench.action.terminal.toggleTerminal",
	"openSettings":                  "workbench.action.openSettings",
	"quickOpen":                     "workbench.action.quickOpen",
	"formatDocument":                "editor.action.formatDocument",
	"reloadWindow":                  "workbench.action.reloadWindow",
}

// Resolve maps a legacy or shorthand command name to its canonical form.
// Lookup is exact and case-sensitive; unknown names are returned unchanged.
func Resolve(raw string) string {
	if canonical, ok := table[raw]; ok {
		return canonical
	}
	return raw
}

type Entry struct {
	Alias     string
	Canonical string
}

// Known returns the alias table sorted by alias.
func Known() []Entry {
	out := make([]Entry, 0, len(table))
	for k, v := range table {
		out = append(out, Entry{Alias: k, Canonical: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}
