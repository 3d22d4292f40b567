package errors

import "strings"

// RedactedPlaceholder replaces secret material in messages and response bodies
const RedactedPlaceholder = "[REDACTED]"

// Redact replaces every occurrence of the given secrets in s with a
// placeholder. Empty secrets are skipped so a server with no scope or an
// optional secret never causes the whole string to be mangled.
//
// Every error message or response body that may carry credential material
// must pass through Redact before it is logged, attached to an error, or
// written to an HTTP response.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, RedactedPlaceholder)
	}
	return s
}
