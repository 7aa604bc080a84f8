// Package environment reads configuration knobs from environment variables.
//
// Every helper takes a default and never fails: a variable that is unset,
// empty, or unparsable yields the default. The config package layers these
// on top of file-based settings so that `BANKEN_*` variables always win.
package environment

import (
	"os"
	"strings"
	"time"
)

// StringOr returns the value of the named environment variable, or
// defaultValue when the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// DurationOr parses the named environment variable with time.ParseDuration
// (e.g. "30s", "5m"). Unset, empty, or malformed values yield defaultValue.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// StringSliceOr splits the named environment variable on commas, trimming
// whitespace around each element and dropping empties. A variable that is
// unset, empty, or reduces to no elements yields defaultValue.
//
// Example: BANKEN_WATCHER_EXCLUDED_ACTIONS="stop, kill" → ["stop", "kill"].
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
