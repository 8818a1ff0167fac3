package forge

import (
	"regexp"
	"strconv"
)

// closingRef matches issue-closing references in a pull request body:
// case-insensitive "fixes"/"resolves"/"closes" followed by #<number>.
var closingRef = regexp.MustCompile(`(?i)(fixes|resolves|closes)\s+#(\d+)`)

// ExtractIssueRefs returns the issue numbers referenced by a closing keyword
// in body, in order of appearance. Duplicates are preserved; callers decide
// whether to deduplicate before acting.
func ExtractIssueRefs(body string) []int {
	matches := closingRef.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue // \d+ guarantees this parses; guard anyway
		}
		refs = append(refs, n)
	}
	return refs
}

// DedupeRefs collapses duplicate issue numbers, preserving first-seen order.
func DedupeRefs(refs []int) []int {
	seen := make(map[int]bool, len(refs))
	out := make([]int, 0, len(refs))
	for _, n := range refs {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
