package util

import (
	"fmt"
	"log/slog"
	"strings"
)

// ParseCommaSeparatedHosts parses a comma-separated string into a slice of trimmed host strings
func ParseCommaSeparatedHosts(value string) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	hosts := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}

	return hosts
}

// ParseStringList is a ConfigVarSpec.ParseFunc accepting either a YAML list
// or a comma-separated string (as found in environment variables)
func ParseStringList(raw any) (any, error) {
	switch value := raw.(type) {
	case nil:
		return []string{}, nil
	case string:
		return ParseCommaSeparatedHosts(value), nil
	case []string:
		return value, nil
	case []any:
		result := make([]string, 0, len(value))
		for _, item := range value {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %v is not a string", item)
			}
			if trimmed := strings.TrimSpace(str); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported list value of type %T", raw)
	}
}

// ParseLogLevel maps a configured level name to a slog.Level, defaulting to info
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
