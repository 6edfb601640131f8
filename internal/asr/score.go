package asr

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// functionWords lists high-frequency words per language prefix. Scoring
// rewards transcripts that contain them because garbage recognitions rarely
// do. Unknown languages fall back to the Portuguese set.
var functionWords = map[string]map[string]bool{
	"pt": wordSet(
		"o", "a", "os", "as", "um", "uma", "uns", "umas",
		"de", "em", "para", "por", "com", "sem", "sobre", "até", "desde",
		"e", "ou", "mas", "porém", "contudo", "todavia", "que", "se",
		"eu", "tu", "ele", "ela", "nós", "vós", "eles", "elas", "você", "vocês",
		"é", "são", "está", "estão", "foi", "eram", "será", "tem", "têm", "tinha",
		"não", "sim", "muito", "pouco", "mais", "menos", "já", "ainda", "sempre",
		"como", "quando", "onde", "porque", "quem", "qual", "tudo", "nada",
	),
	"en": wordSet(
		"the", "a", "an", "this", "that", "these", "those",
		"of", "in", "to", "for", "with", "on", "at", "from", "by",
		"and", "or", "but", "so", "because", "if", "when",
		"i", "you", "he", "she", "it", "we", "they", "me", "him", "her", "us", "them",
		"is", "are", "was", "were", "will", "be", "have", "has", "had", "do", "does", "did",
		"not", "very", "too", "just", "now", "then", "here", "there", "always",
		"what", "where", "why", "who", "how", "all", "some", "any",
	),
	"es": wordSet(
		"el", "la", "los", "las", "un", "una", "unos", "unas",
		"de", "en", "para", "por", "con", "sin", "sobre", "hasta", "desde",
		"y", "o", "pero", "aunque", "porque", "que", "si",
		"yo", "tú", "él", "ella", "nosotros", "vosotros", "ellos", "ellas", "usted", "ustedes",
		"es", "son", "está", "están", "fue", "era", "eran", "será", "tiene", "tienen",
		"no", "sí", "muy", "poco", "más", "menos", "ya", "todavía", "siempre",
		"como", "cuando", "donde", "quién", "cuál", "todo", "nada",
	),
}

// verbSuffixes approximates "contains a verb" for the completeness bonus.
var verbSuffixes = []string{"ar", "er", "ir", "ou", "am", "em", "a", "e", "i"}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// pickBest returns the highest-scoring candidate. Candidates without any
// alphanumeric content are discarded first; ties favor the earlier candidate.
func pickBest(candidates []candidate, language string) (candidate, bool) {
	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if hasAlnum(c.text) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidate{}, false
	}
	if len(kept) == 1 {
		return kept[0], true
	}

	scores := make([]float64, len(kept))
	for i, c := range kept {
		scores[i] = scoreTranscript(c.text, language)
	}
	order := make([]int, len(kept))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return kept[order[0]], true
}

// scoreTranscript rates one candidate transcript for the given language.
// Higher is better.
func scoreTranscript(text, language string) float64 {
	score := 10.0

	words := strings.Fields(strings.ToLower(text))
	wordCount := len(words)

	// Reward length, up to a cap.
	score += min(float64(wordCount)*1.5, 15)

	// Reward common function words of the language, count plus proportion.
	// The proportion term needs at least two words: a lone function word
	// must not outrank a full sentence.
	wordList := functionWordsFor(language)
	if wordCount > 0 {
		common := 0
		for _, w := range words {
			if wordList[w] {
				common++
			}
		}
		bonus := float64(common) * 1.0
		if wordCount > 1 {
			bonus += float64(common) / float64(wordCount) * 10
		}
		score += min(bonus, 20)
	}

	// Penalize characters outside normal prose.
	strange := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(`.,;:!?'"()-`, r) {
			continue
		}
		strange++
	}
	score -= min(float64(strange)*1.5, 10)

	// Sentence shape: leading capital and terminal punctuation.
	first, _ := utf8.DecodeRuneInString(text)
	if unicode.IsUpper(first) {
		score += 2
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	terminal := strings.ContainsRune(".!?", last)
	if terminal {
		score += 2
	}

	// Too many capitalized words mid-sentence suggests a bad recognition.
	rawWords := strings.Fields(text)
	if wordCount > 3 {
		capsInside := 0
		for _, w := range rawWords[1:] {
			r, _ := utf8.DecodeRuneInString(w)
			if unicode.IsUpper(r) {
				capsInside++
			}
		}
		if float64(capsInside) > float64(wordCount-1)*0.5 {
			score -= 3
		}
	}

	// Penalize consecutive repeated words ("a a a").
	repeats := 0
	prev := ""
	for _, w := range words {
		if w != "" && w == prev {
			repeats++
		}
		prev = w
	}
	if repeats > 1 {
		score -= min(float64(repeats)*2, 8)
	}

	// Penalize words with a tripled character ("aaah").
	for _, w := range words {
		runes := []rune(w)
		if len(runes) <= 3 {
			continue
		}
		for i := 0; i+2 < len(runes); i++ {
			if runes[i] == runes[i+1] && runes[i+1] == runes[i+2] {
				score -= 2
				break
			}
		}
	}

	// Bonus for sentences that look complete: several words, terminal
	// punctuation, and something verb-shaped.
	if wordCount >= 3 && terminal {
		for _, w := range words {
			if hasVerbSuffix(w) {
				score += 5
				break
			}
		}
	}

	return score
}

func functionWordsFor(language string) map[string]bool {
	prefix := strings.ToLower(language)
	if i := strings.IndexByte(prefix, '-'); i >= 0 {
		prefix = prefix[:i]
	}
	if set, ok := functionWords[prefix]; ok {
		return set
	}
	return functionWords["pt"]
}

func hasVerbSuffix(word string) bool {
	for _, suffix := range verbSuffixes {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return false
}

func hasAlnum(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
