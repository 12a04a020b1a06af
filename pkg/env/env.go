// Package env reads typed configuration values from the environment.
// Unset or unparsable values yield the default.
package env

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func String(key, def string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return def
	}
	return val
}

func Int(key string, def int) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	var val int
	if _, err := fmt.Sscanf(valStr, "%d", &val); err != nil {
		return def
	}
	return val
}

func Bool(key string, def bool) bool {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	switch strings.ToLower(valStr) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func Duration(key string, def time.Duration) time.Duration {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		return def
	}
	return val
}

// List splits a comma separated value, dropping empty entries.
func List(key string, def []string) []string {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
