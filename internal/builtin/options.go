package builtin

import "github.com/mattjoyce/quern/internal/config"

func stringValue(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intValue(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// stringList reads a string or a list of strings, expanding ~.
func stringList(cfg map[string]any, key string, def []string) []string {
	var out []string
	switch v := cfg[key].(type) {
	case string:
		out = []string{v}
	case []string:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		out = def
	}
	expanded := make([]string, 0, len(out))
	for _, s := range out {
		expanded = append(expanded, config.ExpandHome(s))
	}
	return expanded
}
