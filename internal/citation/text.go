package citation

import (
	"strings"
	"unicode"
)

// tokenSpan records a token's byte offsets in its source text so chunk
// excerpts can be cut from the original, un-normalized text.
type tokenSpan struct {
	start int
	end   int
}

// Tokenize splits text into lowercase alphanumeric tokens. No stopword
// filtering: citation matching needs every token, including short
// function words, so that verbatim spans score 1.0.
func Tokenize(text string) []string {
	tokens, _ := tokenizeSpans(text)
	return tokens
}

// tokenizeSpans tokenizes and returns byte offsets per token.
func tokenizeSpans(text string) ([]string, []tokenSpan) {
	var tokens []string
	var spans []tokenSpan

	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, strings.ToLower(text[start:i]))
			spans = append(spans, tokenSpan{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, strings.ToLower(text[start:]))
		spans = append(spans, tokenSpan{start: start, end: len(text)})
	}
	return tokens, spans
}

// SplitSentences splits summary text into sentence-level segments.
//
// A sentence boundary is a '.', '!' or '?' followed by whitespace.
// Periods between digits (decimal numbers, section references like
// "9.2") do not terminate a sentence. Whitespace-only segments are
// dropped.
func SplitSentences(text string) []string {
	var segments []string

	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Decimal number or dotted section reference.
		if r == '.' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		// Boundary only when followed by whitespace or end of text.
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if seg := strings.TrimSpace(string(runes[start : i+1])); seg != "" {
			segments = append(segments, seg)
		}
		start = i + 1
	}
	if seg := strings.TrimSpace(string(runes[start:])); seg != "" {
		segments = append(segments, seg)
	}
	return segments
}

// matchSegment scores a segment's tokens against one chunk and returns
// the best score together with the best-matching contiguous excerpt from
// the chunk's original text.
//
// The score is the better of the token-overlap ratio (unique segment
// tokens found anywhere in the chunk) and the windowed LCS ratio
// (longest common subsequence between the segment and the best
// segment-sized contiguous token window).
func matchSegment(segTokens []string, chunkTokens []string, chunkText string) (float64, string) {
	if len(segTokens) == 0 || len(chunkTokens) == 0 {
		return 0, ""
	}

	overlap := overlapRatio(segTokens, chunkTokens)
	windowScore, excerpt := bestWindow(segTokens, chunkText)

	score := overlap
	if windowScore > score {
		score = windowScore
	}
	return score, excerpt
}

// overlapRatio is the fraction of unique segment tokens present in the
// chunk.
func overlapRatio(segTokens, chunkTokens []string) float64 {
	chunkSet := make(map[string]struct{}, len(chunkTokens))
	for _, t := range chunkTokens {
		chunkSet[t] = struct{}{}
	}

	matched := 0
	unique := 0
	seen := make(map[string]struct{}, len(segTokens))
	for _, t := range segTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unique++
		if _, ok := chunkSet[t]; ok {
			matched++
		}
	}
	if unique == 0 {
		return 0
	}
	return float64(matched) / float64(unique)
}

// bestWindow slides a segment-sized window over the chunk's tokens and
// returns the best LCS ratio plus the window's text from the original
// chunk.
func bestWindow(segTokens []string, chunkText string) (float64, string) {
	chunkTokens, spans := tokenizeSpans(chunkText)
	if len(chunkTokens) == 0 {
		return 0, ""
	}

	n := len(segTokens)
	windows := len(chunkTokens) - n + 1
	if windows < 1 {
		windows = 1
	}

	bestScore := 0.0
	bestStart, bestEnd := 0, 0
	for w := 0; w < windows; w++ {
		end := w + n
		if end > len(chunkTokens) {
			end = len(chunkTokens)
		}
		length := lcsLength(segTokens, chunkTokens[w:end])
		score := float64(length) / float64(n)
		if score > bestScore {
			bestScore = score
			bestStart, bestEnd = w, end
		}
	}

	if bestScore == 0 {
		return 0, ""
	}
	return bestScore, chunkText[spans[bestStart].start:spans[bestEnd-1].end]
}

// lcsLength computes the longest common subsequence length between two
// token slices using the two-row dynamic programming form.
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
