package service

import (
	"strings"

	"github.com/askbase-io/askbase/internal/domain"
)

// minUsableRunes is the floor below which extracted text is treated as
// empty. Scanned PDFs often extract to a handful of stray characters.
const minUsableRunes = 3

// NormalizeText prepares raw extracted text for chunking: normalizes line
// endings, collapses runs of blank lines, and trims surrounding
// whitespace. Returns ErrEmptyContent when nothing usable remains.
func NormalizeText(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, trimmed)
	}

	normalized := strings.TrimSpace(strings.Join(out, "\n"))
	if len([]rune(normalized)) < minUsableRunes {
		return "", domain.ErrEmptyContent
	}

	return normalized, nil
}
