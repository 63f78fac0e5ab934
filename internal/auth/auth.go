package auth

import "crypto/subtle"

// HeaderName is the shared-secret request header.
const HeaderName = "x-vscode-key"

// IsAuthorized reports whether the first supplied header value matches secret.
// An empty secret means the server is misconfigured and nothing is authorized.
func IsAuthorized(values []string, secret string) bool {
	if secret == "" || len(values) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(values[0]), []byte(secret)) == 1
}
