package asr

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// nearDuplicateDistance is the maximum Damerau-Levenshtein distance at which
// two candidates are collapsed into one.
const nearDuplicateDistance = 2

// dedupeCandidates drops candidates that are near-identical to an earlier
// one, keeping the earliest occurrence.
func dedupeCandidates(candidates []candidate) []candidate {
	if len(candidates) < 2 {
		return candidates
	}

	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		duplicate := false
		for _, k := range kept {
			if nearDuplicate(c.text, k.text) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}

func nearDuplicate(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	return matchr.DamerauLevenshtein(a, b) <= nearDuplicateDistance
}
