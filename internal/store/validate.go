package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxSessionNameLength bounds session names.
const MaxSessionNameLength = 64

var (
	validNameRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeSessionName turns operator input into a session name:
// lower case, [a-z0-9_-] only, runs of other characters collapsed to "-",
// no leading or trailing dashes, at most 64 characters. An empty result
// becomes a timestamped default.
func NormalizeSessionName(name string, now time.Time) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if validNameRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")
	if len(result) > MaxSessionNameLength {
		result = trailingDash.ReplaceAllString(result[:MaxSessionNameLength], "")
	}
	if result == "" {
		return "session-" + now.UTC().Format("20060102-150405")
	}
	return result
}

// ValidateDimensions checks dimension names are present and distinct.
func ValidateDimensions(dims []string) error {
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("empty dimension name")
		}
		if seen[d] {
			return fmt.Errorf("duplicate dimension name %q", d)
		}
		seen[d] = true
	}
	return nil
}
