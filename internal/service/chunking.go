package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls semantic chunking for knowledge embeddings.
type ChunkConfig struct {
	// TargetTokens is the approximate chunk size. A sentence is never
	// split to honor it; a single oversized sentence becomes its own
	// chunk.
	TargetTokens int
	// WindowWords is the fallback window size (in words) for text with
	// no sentence punctuation.
	WindowWords int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens: 256,
		WindowWords:  190,
	}
}

// abbreviations that end with a period but do not terminate a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "eg": {}, "e.g": {}, "ie": {}, "i.e": {},
	"inc": {}, "ltd": {}, "co": {}, "corp": {}, "dept": {}, "est": {},
	"fig": {}, "no": {}, "vol": {}, "approx": {},
}

// EstimateTokens approximates the token count of a text. English prose
// averages roughly 3 words per 4 tokens; this is a length proxy, not
// tokenizer output.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*4 + 2) / 3
}

// ChunkText splits normalized text into ordered, sentence-respecting
// segments of approximately cfg.TargetTokens each, with no overlap.
// Output is non-empty for any non-empty input.
func ChunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.TargetTokens <= 0 {
		cfg = DefaultChunkConfig()
	}

	sentences := splitSentences(clean)
	if len(sentences) == 0 {
		// No sentence punctuation at all: fall back to fixed-size word
		// windows so degenerate input still chunks.
		return windowWords(clean, cfg.WindowWords)
	}

	chunks := make([]string, 0, 8)
	var current []string
	currentTokens := 0

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)
		if currentTokens > 0 && currentTokens+tokens > cfg.TargetTokens {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// splitSentences walks the text and cuts after terminal punctuation
// followed by whitespace, skipping known abbreviations and decimal
// points. Returns nil when the text holds no sentence boundaries.
func splitSentences(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, 16)
	start := 0
	sawTerminator := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		sawTerminator = true

		// Consume closing quotes/brackets after the terminator.
		end := i + 1
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')' || runes[end] == ']') {
			end++
		}

		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			// Mid-word period (decimal, version number, URL).
			continue
		}

		if r == '.' && isAbbreviation(runes, i) {
			continue
		}

		// The next sentence must open with a capital, digit, or quote;
		// a lowercase continuation ("!" said the analyst) is not a
		// boundary.
		next := end
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next < len(runes) && !startsNewSentence(runes[next]) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[start:end]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		// Skip the whitespace run to the next sentence start.
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		start = end
		i = end - 1
	}

	if !sawTerminator {
		return nil
	}

	if start < len(runes) {
		trailing := strings.TrimSpace(string(runes[start:]))
		if trailing != "" {
			sentences = append(sentences, trailing)
		}
	}

	return sentences
}

// startsNewSentence reports whether a rune can open a sentence.
func startsNewSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '\'' || r == '(' || r == '['
}

// isAbbreviation reports whether the period at runes[i] ends a known
// abbreviation rather than a sentence.
func isAbbreviation(runes []rune, i int) bool {
	wordStart := i
	for wordStart > 0 && !unicode.IsSpace(runes[wordStart-1]) {
		wordStart--
	}
	word := strings.ToLower(strings.Trim(string(runes[wordStart:i]), ".,;:()[]\"'"))
	if word == "" {
		return false
	}
	// Single-letter initials: "J. Smith".
	if len([]rune(word)) == 1 && unicode.IsLetter([]rune(word)[0]) {
		return true
	}
	_, ok := abbreviations[word]
	return ok
}

// windowWords splits text into fixed-size word windows.
func windowWords(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkConfig().WindowWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(words)/size+1)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
