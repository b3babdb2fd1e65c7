package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"preimage":     {},
	"secret":       {},
	"rpc_password": {},
	"rpc_user":     {},
	"seed_path":    {},
}

// Sensitive reports whether the provided key must never be emitted verbatim.
// Payment preimages and secrets authorize the release of funds; wallet RPC
// credentials grant spend access.
func Sensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value when the key
// names secret material. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !Sensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// ShortHash abbreviates a hex-encoded hash for log lines, keeping enough of
// the identifier to correlate across events without flooding the output.
func ShortHash(hexStr string) string {
	if len(hexStr) <= 12 {
		return hexStr
	}
	return hexStr[:12]
}
