package security

import (
	"regexp"
	"strings"
)

const marker = "[REDACTED]"

var (
	secretKeyExpr      = `(?:password|passwd|secret|dsn|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)`
	kvSecretPattern    = regexp.MustCompile(`(?i)(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"']+)`)
	jsonSecretPattern  = regexp.MustCompile(`(?i)("` + secretKeyExpr + `"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	bearerTokenPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	pemBlockPattern    = regexp.MustCompile(`(?s)-----BEGIN [^-]+ PRIVATE KEY-----.*?-----END [^-]+ PRIVATE KEY-----`)
	urlUserPattern     = regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^\s/@]+@`)
	loginPattern       = regexp.MustCompile(`(^|[\s'"=])[A-Za-z0-9._-]+@([A-Za-z0-9][A-Za-z0-9.-]*)`)
)

// Redact scrubs credentials from free text before it leaves the host:
// key=value secrets, bearer tokens, private key blocks, userinfo in URLs
// (Sentry DSN keys, ssh:// refs) and the login part of user@host tokens.
func Redact(input string) string {
	if input == "" {
		return ""
	}
	out := pemBlockPattern.ReplaceAllString(input, "[REDACTED_PRIVATE_KEY]")
	out = jsonSecretPattern.ReplaceAllString(out, `${1}"`+marker+`"`)
	out = kvSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return marker
		}
		return match[:idx+1] + " " + marker
	})
	out = bearerTokenPattern.ReplaceAllString(out, "Bearer "+marker)
	out = urlUserPattern.ReplaceAllString(out, "${1}"+marker+"@")
	out = loginPattern.ReplaceAllString(out, "${1}"+marker+"@${2}")
	return out
}

// RedactFields applies Redact to every string value in place and returns
// the map for chaining. Non-string values are left alone.
func RedactFields(fields map[string]any) map[string]any {
	for k, v := range fields {
		if s, ok := v.(string); ok {
			fields[k] = Redact(s)
		}
	}
	return fields
}
