package chat

import (
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "first three words", in: "Hello, world! This is great", want: "Hello world This"},
		{name: "empty input", in: "", want: "Chat"},
		{name: "no alphanumerics", in: "###", want: "###"},
		{name: "capitalizes", in: "what is go", want: "What is go"},
		{name: "fewer than three words", in: "hi", want: "Hi"},
		{name: "collapses whitespace", in: "  one \t two\n\nthree four", want: "One two three"},
		{name: "fallback is fifteen characters", in: "!!!!!!!!!!!!!!!!!!!!", want: "!!!!!!!!!!!!!!!"},
		{name: "non ascii letters are stripped", in: "¿qué tal?", want: "Qu tal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.in); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := NormalizeTitle("   Trip plan  "); got != "Trip plan" {
		t.Errorf("got %q, want %q", got, "Trip plan")
	}
	if got := NormalizeTitle("   "); got != "" {
		t.Errorf("got %q, want empty", got)
	}

	long := strings.Repeat("é", MaxTitleLength+20)
	if got := NormalizeTitle(long); len([]rune(got)) != MaxTitleLength {
		t.Errorf("got %d runes, want %d", len([]rune(got)), MaxTitleLength)
	}
}
