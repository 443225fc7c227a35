// Package format escapes user supplied text for Telegram parse modes.
package format

import (
	"fmt"
	"strings"
)

// Telegram markdown dialects.
const (
	MarkdownV1 = 1
	MarkdownV2 = 2
)

// Characters with meaning in each dialect.
var reserved = map[int]string{
	MarkdownV1: "_*[`",
	MarkdownV2: "_*[]()~`>#+-=|{}.!\\",
}

// EscapeMarkdown backslash-escapes every reserved character of version in
// text so it renders literally.
func EscapeMarkdown(text string, version int) (string, error) {
	set, ok := reserved[version]
	if !ok {
		return "", fmt.Errorf("format: unsupported markdown version %d", version)
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, r := range text {
		if strings.ContainsRune(set, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}
