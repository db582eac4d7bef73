package service

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// plainText strips all markup from user supplied text shown to other users.
var plainText = sync.OnceValue(bluemonday.StrictPolicy)

func sanitizeText(input string, maxLen int) string {
	cleaned := strings.TrimSpace(plainText().Sanitize(strings.TrimSpace(input)))
	if maxLen > 0 && len([]rune(cleaned)) > maxLen {
		cleaned = string([]rune(cleaned)[:maxLen])
	}
	return cleaned
}
