package ingestion_engine

import (
	"regexp"
	"strings"

	"github.com/markdave123-py/studykb/internal/models"
)

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// fallbackChunk packs blank-line separated paragraphs greedily. The running
// chunk is flushed whenever appending the next paragraph would take it past
// target*1.2 tokens. Paragraphs that alone exceed that limit are split on
// line breaks, and as a last resort on rune windows, so every byte of
// non-whitespace input lands in exactly one chunk.
func fallbackChunk(text string, targetTokens int, tc TokenCounter) []models.ChunkProposal {
	if targetTokens <= 0 {
		targetTokens = 450
	}
	limit := targetTokens * 12 / 10

	var (
		out     []models.ChunkProposal
		current string
	)
	flush := func() {
		if strings.TrimSpace(current) != "" {
			out = append(out, models.ChunkProposal{Content: current})
		}
		current = ""
	}

	for _, para := range splitParagraphs(text) {
		for _, piece := range fitPieces(para, limit, tc) {
			if current == "" {
				current = piece
				continue
			}
			joined := current + "\n\n" + piece
			if tc.Count(joined) > limit {
				flush()
				current = piece
				continue
			}
			current = joined
		}
	}
	flush()
	return out
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphSep.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fitPieces breaks an oversized paragraph into pieces of at most limit tokens.
func fitPieces(para string, limit int, tc TokenCounter) []string {
	if tc.Count(para) <= limit {
		return []string{para}
	}

	var (
		pieces []string
		cur    string
	)
	for _, line := range strings.Split(para, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if tc.Count(line) > limit {
			if cur != "" {
				pieces = append(pieces, cur)
				cur = ""
			}
			pieces = append(pieces, runeWindows(line, limit*4)...)
			continue
		}
		if cur == "" {
			cur = line
		} else if tc.Count(cur+"\n"+line) > limit {
			pieces = append(pieces, cur)
			cur = line
		} else {
			cur += "\n" + line
		}
	}
	if cur != "" {
		pieces = append(pieces, cur)
	}
	return pieces
}

func runeWindows(s string, size int) []string {
	if size <= 0 {
		size = 1
	}
	r := []rune(s)
	out := make([]string, 0, len(r)/size+1)
	for start := 0; start < len(r); start += size {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[start:end]))
	}
	return out
}
