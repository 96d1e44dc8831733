package streaming

import (
	"strings"
	"unicode"
)

// flushThreshold is the accumulated length at which a fragment is emitted
// regardless of its trailing rune.
const flushThreshold = 20

// TokenBuffer coalesces small upstream fragments into fewer downstream
// token events. A pending fragment is held until it reaches the threshold
// or ends on whitespace or punctuation, which keeps event overhead down
// without perceptible latency. Not safe for concurrent use; the engine
// drains a single winner stream through it.
type TokenBuffer struct {
	pending strings.Builder
}

// Add appends fragment and returns the coalesced content when it is ready
// to emit, or "" while still accumulating.
func (b *TokenBuffer) Add(fragment string) string {
	if fragment == "" {
		return ""
	}
	b.pending.WriteString(fragment)

	s := b.pending.String()
	if len(s) < flushThreshold && !endsOnBoundary(s) {
		return ""
	}
	b.pending.Reset()
	return s
}

// Flush returns whatever is still pending. Called at stream end.
func (b *TokenBuffer) Flush() string {
	s := b.pending.String()
	b.pending.Reset()
	return s
}

func endsOnBoundary(s string) bool {
	runes := []rune(s)
	last := runes[len(runes)-1]
	return unicode.IsSpace(last) || unicode.IsPunct(last)
}
