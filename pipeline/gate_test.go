package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name    string
		message string
		marker  string
		want    bool
	}{
		{"marker in subject", "Update version to 2.3.6 [skip ci]", "[skip ci]", true},
		{"marker in body", "Fix parser\n\nchore release [skip ci]\n", "[skip ci]", true},
		{"no marker", "Fix parser", "[skip ci]", false},
		{"marker is literal, not a pattern", "skip ci please", "[skip ci]", false},
		{"case sensitive", "update [SKIP CI]", "[skip ci]", false},
		{"empty marker never skips", "anything [skip ci]", "", false},
		{"empty message", "", "[skip ci]", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSkip(tt.message, tt.marker))
		})
	}
}
