package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	filenameTimeLayout = "20060102_150405"
	maxPromptRunes     = 50
)

// Filename names a saved image: timestamp, sanitized prompt prefix and,
// for explicit seeds, the seed. Two saves of the same prompt and seed within
// one second share a name.
func Filename(now time.Time, prompt string, seed *uint32) string {
	name := now.Format(filenameTimeLayout) + "_" + sanitize(prompt)
	if seed != nil {
		name += fmt.Sprintf("_seed%d", *seed)
	}
	return name + ".png"
}

func sanitize(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > maxPromptRunes {
		runes = runes[:maxPromptRunes]
	}

	var b strings.Builder
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}
