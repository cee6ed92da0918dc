package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTitle   = "Chat"
	MaxTitleLength = 100

	titleWords         = 3
	titleFallbackRunes = 15
)

// DeriveTitle builds a chat title from the first user message: the first
// three alphanumeric words, or the first 15 characters when there are none.
func DeriveTitle(text string) string {
	if text == "" {
		return DefaultTitle
	}

	cleaned := strings.Map(func(r rune) rune {
		if isASCIIAlnum(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)

	words := strings.Fields(cleaned)
	if len(words) > titleWords {
		words = words[:titleWords]
	}

	title := strings.Join(words, " ")
	if title == "" {
		title = truncateRunes(text, titleFallbackRunes)
	}
	return capitalize(title)
}

// NormalizeTitle trims a user supplied title and caps its length.
func NormalizeTitle(title string) string {
	return truncateRunes(strings.TrimSpace(title), MaxTitleLength)
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
