package identifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"simple lowercase", "user", true},
		{"leading underscore", "_internal", true},
		{"mixed case with digits", "UserName2", true},
		{"hyphen allowed after first char", "first-name", true},
		{"empty string", "", false},
		{"starts with digit", "2fast", false},
		{"starts with hyphen", "-bad", false},
		{"contains space", "bad name", false},
		{"contains dot", "bad.name", false},
		{"single character", "x", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Valid(tc.in))
		})
	}

	t.Run("rejects a name over the length limit", func(t *testing.T) {
		assert.False(t, Valid("a"+strings.Repeat("x", 200)))
	})
}
