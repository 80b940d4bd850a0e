package runtime

import (
	"bytes"
	"io"
	"sync"
)

// outputBuffer accumulates stdout and stderr of one child process under a
// single combined byte limit. Bytes past the limit are dropped and the
// overflow callback fires once.
type outputBuffer struct {
	mu         sync.Mutex
	limit      int // <= 0 means unbounded
	used       int
	stdout     bytes.Buffer
	stderr     bytes.Buffer
	overflowed bool
	onOverflow func()
}

func newOutputBuffer(limit int, onOverflow func()) *outputBuffer {
	return &outputBuffer{limit: limit, onOverflow: onOverflow}
}

// writer returns the io.Writer for one stream. emit, when non-nil, receives a
// private copy of every retained chunk in arrival order.
func (b *outputBuffer) writer(stream Stream, emit func(Stream, []byte)) io.Writer {
	return &streamWriter{buf: b, stream: stream, emit: emit}
}

// append stores as much of p as the limit allows and returns the kept prefix.
func (b *outputBuffer) append(stream Stream, p []byte) []byte {
	b.mu.Lock()
	kept := p
	tripped := false
	if b.limit > 0 {
		remaining := b.limit - b.used
		if remaining < 0 {
			remaining = 0
		}
		if len(p) > remaining {
			kept = p[:remaining]
			if !b.overflowed {
				b.overflowed = true
				tripped = true
			}
		}
	}
	if stream == StreamStderr {
		b.stderr.Write(kept)
	} else {
		b.stdout.Write(kept)
	}
	b.used += len(kept)
	b.mu.Unlock()

	if tripped && b.onOverflow != nil {
		b.onOverflow()
	}
	return kept
}

// Overflowed reports whether the child produced more than limit bytes.
func (b *outputBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

// Strings returns the accumulated stdout and stderr.
func (b *outputBuffer) Strings() (stdout, stderr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdout.String(), b.stderr.String()
}

type streamWriter struct {
	buf    *outputBuffer
	stream Stream
	emit   func(Stream, []byte)
}

// Write always reports the full length as consumed so the exec copy
// goroutine keeps draining the pipe after the limit is hit.
func (w *streamWriter) Write(p []byte) (int, error) {
	kept := w.buf.append(w.stream, p)
	if len(kept) > 0 && w.emit != nil {
		chunk := make([]byte, len(kept))
		copy(chunk, kept)
		w.emit(w.stream, chunk)
	}
	return len(p), nil
}
