package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"user:*", "user:1", true},
		{"user:*", "user:", true},
		{"user:*", "other:1", false},
		{"*|users|*", "0:get_user|users|id=1", true},
		{"*|users|*", "0:get_user|orders|id=1", false},
		{"user:?", "user:1", true},
		{"user:?", "user:12", false},
		{"*:get_user|*", "300:get_user|", true},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"a*c*e", "abcde", true},
		{"a*c*e", "abde", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matchPattern(c.pattern, c.s), "pattern %q against %q", c.pattern, c.s)
	}
}
