package writer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"liqrelay/internal/models"
)

const (
	// DefaultMaxChars stays under the chat API's 4096 character limit, which
	// counts UTF-16 code units.
	DefaultMaxChars  = 4000
	TruncationMarker = "… [truncated]"

	batchSeparator = "\n\n"
)

func batchHeader(n int) string {
	return fmt.Sprintf("📦 Batch of %d messages", n)
}

// textLen is the length of s in UTF-16 code units. Characters outside the
// basic plane, such as most emoji, count twice.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += units(r)
	}
	return n
}

func units(r rune) int {
	if r > 0xFFFF && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// prefix returns the longest prefix of s whose length is at most n units.
func prefix(s string, n int) string {
	used := 0
	for i, r := range s {
		w := units(r)
		if used+w > n {
			return s[:i]
		}
		used += w
	}
	return s
}

// truncate cuts text to at most maxChars units, marker included.
func truncate(text string, maxChars int) string {
	if textLen(text) <= maxChars {
		return text
	}
	markerLen := textLen(TruncationMarker)
	if maxChars <= markerLen {
		return prefix(TruncationMarker, maxChars)
	}
	return prefix(text, maxChars-markerLen) + TruncationMarker
}

// buildBatch takes the longest prefix of pending that fits in maxChars with
// its header, up to maxMessages. It returns the payload and how many messages
// it consumed. A single message is never given a header; an oversized first
// message goes alone, truncated.
func buildBatch(pending []models.OutboundMessage, maxMessages, maxChars int) (string, int) {
	if len(pending) == 0 {
		return "", 0
	}
	first := pending[0].Text
	if maxMessages <= 1 || len(pending) == 1 || textLen(first) > maxChars {
		return truncate(first, maxChars), 1
	}

	limit := maxMessages
	if limit > len(pending) {
		limit = len(pending)
	}

	body := textLen(first)
	n := 1
	for n < limit {
		next := body + textLen(batchSeparator) + textLen(pending[n].Text)
		total := textLen(batchHeader(n+1)) + textLen(batchSeparator) + next
		if total > maxChars {
			break
		}
		body = next
		n++
	}
	if n == 1 {
		return first, 1
	}

	var b strings.Builder
	b.WriteString(batchHeader(n))
	for _, msg := range pending[:n] {
		b.WriteString(batchSeparator)
		b.WriteString(msg.Text)
	}
	return b.String(), n
}
