package pipeline

import "strings"

// ShouldSkip reports whether a commit message carries the skip marker.
//
// The marker is a control token with two roles: pushes whose head commit
// contains it are no-ops, and the pipeline stamps it onto its own generated
// commits so a bump commit never re-enters the pipeline and bumps again.
//
// Callers must only invoke this with a successfully read commit message.
// There is no default-skip fallback: silently skipping hides release
// failures, and silently not-skipping can loop the pipeline indefinitely.
func ShouldSkip(message, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(message, marker)
}
