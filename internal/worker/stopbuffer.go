package worker

import (
	"strings"
	"unicode/utf8"
)

// stopBuffer withholds the trailing bytes of generated text that could
// still be the prefix of a stop string, flushing everything else
// immediately. This is what lets the worker detect a stop string that
// arrives split across several token pieces without ever emitting text
// that is part of it.
type stopBuffer struct {
	stops  []string
	maxLen int
	held   strings.Builder
}

func newStopBuffer(stops []string) *stopBuffer {
	max := 0
	for _, s := range stops {
		if len(s) > max {
			max = len(s)
		}
	}
	return &stopBuffer{stops: stops, maxLen: max}
}

// push adds text to the buffer. It returns (emit, matched, stop):
// emit is safe text to send to the client now; matched reports whether
// a stop string was found, in which case stop names it and emit already
// excludes the stop string and everything after it.
func (b *stopBuffer) push(text string) (emit string, matched bool, stop string) {
	b.held.WriteString(text)
	held := b.held.String()

	earliest := -1
	for _, s := range b.stops {
		if s == "" {
			continue
		}
		if idx := strings.Index(held, s); idx != -1 && (earliest == -1 || idx < earliest) {
			earliest = idx
			stop = s
		}
	}
	if earliest != -1 {
		emit = held[:earliest]
		b.held.Reset()
		return emit, true, stop
	}

	if b.maxLen == 0 {
		b.held.Reset()
		return held, false, ""
	}
	keep := b.maxLen - 1
	if keep < 0 {
		keep = 0
	}
	if len(held) <= keep {
		return "", false, ""
	}
	cut := len(held) - keep
	for cut > 0 && cut < len(held) && !utf8.RuneStart(held[cut]) {
		cut--
	}
	b.held.Reset()
	b.held.WriteString(held[cut:])
	return held[:cut], false, ""
}

// flush returns whatever text remains withheld; called once generation
// has ended for a reason other than a stop-string match.
func (b *stopBuffer) flush() string {
	out := b.held.String()
	b.held.Reset()
	return out
}
