package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of the first non-empty key, or def.
func EnvString(def string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}

func IntFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// DurationSecondsFromEnv reads a whole number of seconds. Non-positive values fall back to def.
func DurationSecondsFromEnv(key string, def time.Duration) time.Duration {
	n := IntFromEnv(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
