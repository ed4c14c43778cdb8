package scrollsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamePage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://example.com/docs", "https://example.com/docs#install", true},
		{"https://example.com", "https://example.com/", true},
		{"https://example.com/docs?tab=1", "https://example.com/docs?tab=2", true},
		{"https://example.com/docs", "https://example.com/blog", false},
		{"https://example.com/docs", "http://example.com/docs", false},
		{"https://example.com/docs", "https://docs.example.com/docs", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SamePage(tt.a, tt.b))
		})
	}
}
