package publisher

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under the cap", "hello", 10, "hello"},
		{"at the cap", "hello", 5, "hello"},
		{"over the cap", "hello world", 5, "hello"},
		{"multi-byte under the cap", strings.Repeat("é", 200), 280, strings.Repeat("é", 200)},
		{"multi-byte over the cap", strings.Repeat("é", 300), 280, strings.Repeat("é", 280)},
		{"cut lands between runes", "日本語のキャプション", 4, "日本語の"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestAppendHashtags(t *testing.T) {
	assert.Equal(t, "launch #go #release", appendHashtags("launch", []string{"go", "#release"}))
	assert.Equal(t, "launch", appendHashtags("launch", []string{""}))
}
