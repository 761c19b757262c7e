// Package env reads process settings needed before the typed config loads.
package env

import (
	"os"
	"strings"
)

// First returns the first non-blank value among keys, or fallback.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}

// LogFormat is "console" for human-readable output and "json" otherwise.
func LogFormat() string {
	if strings.EqualFold(First("json", "SUBSYNC_LOG_FORMAT", "LOG_FORMAT"), "console") {
		return "console"
	}
	return "json"
}
