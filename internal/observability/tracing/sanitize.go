package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// sensitiveFragments are never allowed into span attributes or recorded
// errors. Outbound automation calls carry service tokens; a leaked URL or
// header value in a trace would expose them.
var sensitiveFragments = []string{
	"service-token",
	"service_token",
	"authorization",
	"password",
	"secret",
	"bot_token",
}

// SafeAttributes drops attributes whose values look like they carry
// credentials or internal secrets.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	safe := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isSensitive(string(attr.Key)) || isSensitive(attr.Value.Emit()) {
			continue
		}
		safe = append(safe, attr)
	}
	return safe
}

// SafeError returns a scrubbed error suitable for span recording, or nil if
// the message cannot be made safe.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if isSensitive(err.Error()) {
		return errors.New("redacted error")
	}
	return err
}

func isSensitive(value string) bool {
	lowered := strings.ToLower(value)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}
