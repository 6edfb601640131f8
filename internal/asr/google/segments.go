package google

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// Stability above this marks an interim hypothesis safe to commit when
	// the recognizer moves on to a new phrase.
	interimStableCommit = 0.8

	// A one-shot interim needs this many words plus real audio progress
	// before divergence commits it instead of replacing it.
	interimWordsForCommit = 4
	interimAudioAdvance   = 500 * time.Millisecond
)

// collectSegments appends a valid trailing interim segment when needed.
func collectSegments(committedSegments []string, lastInterim string) []string {
	segments := append([]string(nil), committedSegments...)
	if interim := cleanSegment(lastInterim); interim != "" {
		segments = appendSegment(segments, interim)
	}
	return segments
}

// appendSegment merges continuation segments to avoid duplicate transcript growth.
func appendSegment(segments []string, transcript string) []string {
	transcript = cleanSegment(transcript)
	if transcript == "" {
		return segments
	}
	if len(segments) == 0 {
		return append(segments, transcript)
	}

	last := cleanSegment(segments[len(segments)-1])
	switch {
	case transcript == last:
		return segments
	case strings.HasPrefix(transcript, last):
		segments[len(segments)-1] = transcript
		return segments
	case strings.HasPrefix(last, transcript):
		return segments
	default:
		return append(segments, transcript)
	}
}

// isInterimContinuation decides whether an interim update extends prior
// speech. Suffix containment covers the recognizer re-anchoring after it
// drops a misheard lead-in.
func isInterimContinuation(previous string, current string) bool {
	previous = cleanSegment(previous)
	current = cleanSegment(current)
	if previous == "" || current == "" {
		return true
	}
	if previous == current {
		return true
	}
	if strings.HasPrefix(current, previous) || strings.HasPrefix(previous, current) {
		return true
	}
	if strings.HasSuffix(previous, current) || strings.HasSuffix(current, previous) {
		return true
	}

	prevWords := strings.Fields(previous)
	currWords := strings.Fields(current)
	common := commonPrefixWords(prevWords, currWords)
	shorter := min(len(prevWords), len(currWords))
	if shorter == 0 {
		return true
	}
	return common*2 >= shorter
}

// commonPrefixWords counts shared leading words across two slices.
func commonPrefixWords(left []string, right []string) int {
	limit := min(len(left), len(right))
	count := 0
	for i := 0; i < limit; i++ {
		if left[i] != right[i] {
			break
		}
		count++
	}
	return count
}

// shouldCommitInterimBoundary decides whether a divergent interim update
// means the previous hypothesis was a finished phrase worth keeping rather
// than a misrecognition to discard.
func shouldCommitInterimBoundary(previous string, age int, stability float32, advance time.Duration) bool {
	previous = cleanSegment(previous)
	if previous == "" {
		return false
	}
	if age >= 2 {
		return true
	}
	if stability >= interimStableCommit {
		return true
	}
	if last, _ := utf8.DecodeLastRuneInString(previous); strings.ContainsRune(".!?", last) {
		return true
	}
	if len(strings.Fields(previous)) >= interimWordsForCommit && advance >= interimAudioAdvance {
		return true
	}
	return false
}

// cleanSegment normalizes transcript whitespace.
func cleanSegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(raw), " ")
}
