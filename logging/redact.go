package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// sensitiveFieldParts mark field names whose values never reach a sink.
var sensitiveFieldParts = []string{"token", "secret", "password", "api_key", "apikey", "credential", "authorization"}

// RedactHook masks the values of fields that look like credentials.
type RedactHook struct{}

// Levels implements logrus.Hook.
func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for key, value := range entry.Data {
		if IsSensitiveKey(key) {
			if s, ok := value.(string); ok && s == "" {
				continue
			}
			entry.Data[key] = "[redacted]"
		}
	}
	return nil
}

// IsSensitiveKey reports whether a field or variable name looks like a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveFieldParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return strings.HasSuffix(lower, "_key")
}
