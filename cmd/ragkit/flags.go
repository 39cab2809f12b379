package main

import (
	"fmt"
	"sort"
	"strings"
)

// parseKV parses repeated key=value flags. Values may contain '='.
func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q: want key=value", p)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("invalid pair %q: empty key", p)
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("key %q given more than once", k)
		}
		out[k] = v
	}
	return out, nil
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
