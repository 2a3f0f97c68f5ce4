package llm

import "strings"

// stopFilter watches a running text stream for stop sequences. Text is
// withheld while it could still be the beginning of a sequence straddling a
// chunk boundary, so a marker is never partially emitted.
type stopFilter struct {
	sequences []string
	buf       strings.Builder
	stopped   bool
}

func newStopFilter(sequences []string) *stopFilter {
	return &stopFilter{sequences: sequences}
}

// Write appends chunk and returns the text that is now safe to forward.
// Once a stop sequence is matched, the text before the marker is returned,
// stopped becomes true, and all further writes are swallowed.
func (f *stopFilter) Write(chunk string) (emit string, stopped bool) {
	if f.stopped {
		return "", true
	}
	if len(f.sequences) == 0 {
		return chunk, false
	}

	f.buf.WriteString(chunk)
	pending := f.buf.String()

	for _, seq := range f.sequences {
		if idx := strings.Index(pending, seq); idx >= 0 {
			f.stopped = true
			f.buf.Reset()
			return pending[:idx], true
		}
	}

	// Hold back the longest suffix that is a prefix of any sequence.
	hold := 0
	for _, seq := range f.sequences {
		max := len(seq) - 1
		if max > len(pending) {
			max = len(pending)
		}
		for n := max; n > hold; n-- {
			if strings.HasPrefix(seq, pending[len(pending)-n:]) {
				hold = n
				break
			}
		}
	}

	emit = pending[:len(pending)-hold]
	f.buf.Reset()
	f.buf.WriteString(pending[len(pending)-hold:])
	return emit, false
}

// Flush returns any withheld text. Called when a non-text event or the end
// of the stream guarantees the held suffix can no longer complete a
// sequence.
func (f *stopFilter) Flush() string {
	if f.stopped {
		return ""
	}
	out := f.buf.String()
	f.buf.Reset()
	return out
}

// Stopped reports whether a stop sequence has been matched.
func (f *stopFilter) Stopped() bool { return f.stopped }
