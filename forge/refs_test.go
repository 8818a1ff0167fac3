package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIssueRefs(t *testing.T) {
	t.Run("ordered references", func(t *testing.T) {
		refs := ExtractIssueRefs("fixes #12 and resolves #7")
		assert.Equal(t, []int{12, 7}, refs)
	})

	t.Run("case insensitive keywords", func(t *testing.T) {
		refs := ExtractIssueRefs("Fixes #1, RESOLVES #2, Closes #3")
		assert.Equal(t, []int{1, 2, 3}, refs)
	})

	t.Run("no keywords yields empty", func(t *testing.T) {
		assert.Empty(t, ExtractIssueRefs("see #12 for context"))
	})

	t.Run("malformed reference yields no match", func(t *testing.T) {
		assert.Empty(t, ExtractIssueRefs("fixes #"))
	})

	t.Run("duplicates preserved in extraction", func(t *testing.T) {
		refs := ExtractIssueRefs("fixes #5 and also fixes #5")
		assert.Equal(t, []int{5, 5}, refs)
	})

	t.Run("multiline body", func(t *testing.T) {
		body := "Summary of the change.\n\ncloses #10\nfixes #11\n"
		assert.Equal(t, []int{10, 11}, ExtractIssueRefs(body))
	})
}

func TestDedupeRefs(t *testing.T) {
	assert.Equal(t, []int{5, 7}, DedupeRefs([]int{5, 7, 5, 5, 7}))
	assert.Empty(t, DedupeRefs(nil))
}
