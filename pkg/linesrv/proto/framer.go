package proto

import "fmt"

const (
	// DefaultMaxMessageLength is the longest message delivered to a handler.
	// Longer lines are truncated to this length.
	DefaultMaxMessageLength = 4095
	// DefaultRecvBufferSize is the size of a single socket read.
	DefaultRecvBufferSize = 1024
)

const (
	LF = '\n'
	CR = '\r'
)

// Framer splits a byte stream into line-terminated messages.
//
// A message ends at LF or CR. An LF directly following a CR, including one
// arriving in a later Feed call, is part of the same terminator. Bytes past
// the maximum length are dropped until the next terminator.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf     []byte
	maxLen  int
	prevCR  bool
	dropped int
}

// NewFramer creates a framer that delivers messages of at most maxLen bytes.
func NewFramer(maxLen int) *Framer {
	if maxLen < 1 {
		maxLen = DefaultMaxMessageLength
	}
	return &Framer{
		buf:    make([]byte, 0, maxLen),
		maxLen: maxLen,
	}
}

// Feed scans data and calls emit once per completed message. The slice passed
// to emit is reused after emit returns. When emit returns false Feed stops
// scanning and returns false; the unscanned bytes are discarded.
func (f *Framer) Feed(data []byte, emit func(msg []byte) bool) bool {
	for _, b := range data {
		switch {
		case b == LF && f.prevCR:
			f.prevCR = false
		case b == LF || b == CR:
			f.prevCR = b == CR
			msg := f.buf
			f.buf = f.buf[:0]
			f.dropped = 0
			if !emit(msg) {
				return false
			}
		default:
			f.prevCR = false
			if len(f.buf) < f.maxLen {
				f.buf = append(f.buf, b)
			} else {
				f.dropped++
			}
		}
	}
	return true
}

// Pending returns the number of buffered bytes of the unterminated message.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Dropped returns how many bytes of the current line were discarded.
func (f *Framer) Dropped() int {
	return f.dropped
}

// Reset discards any partial message.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.prevCR = false
	f.dropped = 0
}

// MaxLen returns the configured maximum message length.
func (f *Framer) MaxLen() int {
	return f.maxLen
}

// Format renders a reply and truncates it to limit bytes.
func Format(limit int, format string, args ...any) []byte {
	out := fmt.Appendf(nil, format, args...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
