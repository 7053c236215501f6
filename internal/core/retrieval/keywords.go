package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxKeywords caps how many terms are taken from one question.
const MaxKeywords = 8

// keywordRun matches runs of two or more Han characters or three or more
// Latin letters.
var keywordRun = regexp.MustCompile(`\p{Han}{2,}|[A-Za-z]{3,}`)

var englishStopwords = map[string]bool{
	"the": true, "and": true, "are": true, "was": true, "were": true, "for": true,
	"with": true, "from": true, "into": true, "about": true, "this": true, "that": true,
	"these": true, "those": true, "what": true, "which": true, "who": true, "whom": true,
	"whose": true, "when": true, "where": true, "why": true, "how": true, "does": true,
	"did": true, "can": true, "could": true, "would": true, "should": true, "will": true,
	"has": true, "have": true, "had": true, "not": true, "but": true, "any": true,
	"all": true, "some": true, "you": true, "your": true, "our": true, "its": true,
	"they": true, "them": true, "their": true, "there": true, "than": true, "then": true,
	"also": true, "please": true, "tell": true, "explain": true, "describe": true,
	"give": true, "between": true,
}

// chineseStopwords are cut out of Han runs before the remaining pieces are
// kept. Longer entries come first so they win over their single characters.
var chineseStopwords = []string{
	"为什么", "什么", "怎么", "如何", "是否", "哪些", "可以", "请问", "一下",
	"这个", "那个", "我们", "你们", "他们", "的", "了", "吗", "呢", "是", "和", "在", "有",
}

// ExtractKeywords pulls search terms from a question in order of appearance:
// Han runs of at least two characters and Latin words of at least three
// letters, case-folded, de-duplicated, without common function words.
func ExtractKeywords(question string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	add := func(term string) bool {
		if seen[term] {
			return true
		}
		seen[term] = true
		out = append(out, term)
		return len(out) < MaxKeywords
	}

	for _, run := range keywordRun.FindAllString(question, -1) {
		if run[0] < utf8.RuneSelf {
			term := strings.ToLower(run)
			if englishStopwords[term] {
				continue
			}
			if !add(term) {
				return out
			}
			continue
		}
		for _, piece := range splitHan(run) {
			if !add(piece) {
				return out
			}
		}
	}
	return out
}

func splitHan(run string) []string {
	for _, sw := range chineseStopwords {
		run = strings.ReplaceAll(run, sw, " ")
	}
	var out []string
	for _, f := range strings.Fields(run) {
		if utf8.RuneCountInString(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// keywordHits counts how many keywords occur in text, ignoring case.
func keywordHits(text string, keywords []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

// Relevant is the gate applied to chunks of documents found by search. With
// one or two keywords a single hit is enough; with more, a chunk needs two
// hits or half of the keywords.
func Relevant(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	hits := keywordHits(text, keywords)
	if len(keywords) <= 2 {
		return hits >= 1
	}
	return hits >= 2 || float64(hits)/float64(len(keywords)) >= 0.5
}
