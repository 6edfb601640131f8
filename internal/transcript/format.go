// Package transcript normalizes a recognized transcript before it is
// committed at the cursor.
package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options controls transcript formatting behavior.
type Options struct {
	TrailingSpace       bool
	CapitalizeSentences bool
}

var (
	paragraphBreakPattern = regexp.MustCompile(`(?i)\b(?:new|next) paragraph\b`)
	lineBreakPattern      = regexp.MustCompile(`(?i)\b(?:new|next) line\b`)

	spaceBeforePunctuationPattern = regexp.MustCompile(`\s+([.,;:!?])`)

	// "may" stays out of the list; the month is indistinguishable from the
	// modal verb.
	calendarWordPattern = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|january|february|march|april|june|july|august|september|october|november|december)\b`)
)

// Format applies spoken break commands, whitespace and punctuation spacing
// normalization, and the configured casing rules to a finished transcript.
func Format(text string, opts Options) string {
	normalized := normalizeSpacing(expandBreakCommands(text))
	if normalized == "" {
		return ""
	}

	if opts.CapitalizeSentences {
		normalized = capitalizeSentences(normalized)
		normalized = capitalizeCalendarWords(normalized)
	}

	if opts.TrailingSpace {
		return normalized + " "
	}
	return normalized
}

// expandBreakCommands turns dictated break commands into literal breaks.
func expandBreakCommands(text string) string {
	text = paragraphBreakPattern.ReplaceAllString(text, "\n\n")
	return lineBreakPattern.ReplaceAllString(text, "\n")
}

// normalizeSpacing collapses runs of whitespace within each line, reattaches
// punctuation the recognizer split off, and bounds paragraph gaps at one
// blank line.
func normalizeSpacing(text string) string {
	lines := make([]string, 0, 4)
	pendingBlank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		line = spaceBeforePunctuationPattern.ReplaceAllString(line, "$1")
		if line == "" {
			if len(lines) > 0 {
				pendingBlank = true
			}
			continue
		}
		if pendingBlank {
			lines = append(lines, "")
			pendingBlank = false
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func capitalizeSentences(text string) string {
	text = capitalizeSentenceStarts(text)
	text = pronounIContractionPattern.ReplaceAllStringFunc(text, func(match string) string {
		return "I" + match[1:]
	})
	return capitalizeStandalonePronounI(text)
}

func capitalizeCalendarWords(text string) string {
	return calendarWordPattern.ReplaceAllStringFunc(text, func(match string) string {
		first, size := utf8.DecodeRuneInString(match)
		return string(unicode.ToUpper(first)) + strings.ToLower(match[size:])
	})
}
