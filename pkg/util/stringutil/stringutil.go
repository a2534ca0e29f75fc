// Package stringutil provides string helpers shared by the CLI and the auth package.
package stringutil

import "strings"

// CoalesceString returns the first non-empty string from the provided strings.
// If all strings are empty, it returns an empty string.
func CoalesceString(strs ...string) string {
	for _, str := range strs {
		if str != "" {
			return str
		}
	}
	return ""
}

// TruncateString truncates a string to maxLen bytes, adding an ellipsis if truncated.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// MaskSecret keeps the first and last visible bytes of a secret and replaces
// the rest with asterisks. Short secrets are masked entirely.
func MaskSecret(s string, visible int) string {
	if visible < 0 {
		visible = 0
	}
	if len(s) <= 2*visible+4 {
		return strings.Repeat("*", len(s))
	}
	return s[:visible] + strings.Repeat("*", 4) + s[len(s)-visible:]
}
