package ingestion_engine

import (
	"strings"
	"unicode"

	"github.com/markdave123-py/studykb/internal/models"
)

// averageLatinWordLen approximates how many characters one Latin word
// occupies, including its separator.
const averageLatinWordLen = 5

// DetectLanguage classifies text as Chinese, English, mixed or none from the
// share of Han characters and an estimate of the share taken by Latin words.
func DetectLanguage(text string) models.Language {
	if strings.TrimSpace(text) == "" {
		return models.LanguageNone
	}

	var (
		total  int
		han    int
		words  int
		inWord bool
	)
	for _, r := range text {
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
		latin := r < unicode.MaxASCII && unicode.IsLetter(r)
		if latin && !inWord {
			words++
		}
		inWord = latin
	}

	hanRatio := float64(han) / float64(total)
	latinRatio := float64(words*averageLatinWordLen) / float64(total)

	switch {
	case hanRatio > 0.3 && latinRatio > 0.2:
		return models.LanguageMixed
	case hanRatio > 0.3:
		return models.LanguageChinese
	case latinRatio > 0.3:
		return models.LanguageEnglish
	default:
		return models.LanguageNone
	}
}

// WordCount counts whitespace-separated words, counting every Han
// character as a word of its own.
func WordCount(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		other := false
		for _, r := range f {
			if unicode.Is(unicode.Han, r) {
				n++
				continue
			}
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				other = true
			}
		}
		if other {
			n++
		}
	}
	return n
}

// ocrHints picks OCR language hints from the language of the surrounding text.
func ocrHints(lang models.Language) []string {
	switch lang {
	case models.LanguageChinese:
		return []string{"zh"}
	case models.LanguageEnglish:
		return []string{"en"}
	default:
		return []string{"zh", "en"}
	}
}
