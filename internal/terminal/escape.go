package terminal

import (
	"io"
	"sync"
)

// Escape sequence of an interactive session: EscapeChar then DisconnectChar
// at the start of a line disconnects. EscapeChar twice sends one literal
// EscapeChar.
const (
	EscapeChar     = '~'
	DisconnectChar = '.'
)

// EscapeReader wraps the input of an interactive session and watches for
// the disconnect sequence. When it is seen, Escaped is closed and Read
// returns io.EOF.
type EscapeReader struct {
	r           io.Reader
	escaped     chan struct{}
	escapedOnce sync.Once

	mu          sync.Mutex
	lineStart   bool
	pendingEsc  bool
	pendingByte []byte
}

// NewEscapeReader creates an EscapeReader wrapping r. The first byte read
// counts as the start of a line.
func NewEscapeReader(r io.Reader) *EscapeReader {
	return &EscapeReader{
		r:         r,
		escaped:   make(chan struct{}),
		lineStart: true,
	}
}

// Escaped returns a channel that is closed when the disconnect sequence is read.
func (e *EscapeReader) Escaped() <-chan struct{} {
	return e.escaped
}

// Read reads from the underlying reader with the escape sequence removed.
func (e *EscapeReader) Read(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pendingByte) > 0 {
		n := copy(p, e.pendingByte)
		e.pendingByte = e.pendingByte[n:]
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	n, err := e.r.Read(p)
	if n == 0 {
		return n, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	in := make([]byte, n)
	copy(in, p[:n])
	out := make([]byte, 0, n+1)
	for _, b := range in {
		if e.pendingEsc {
			e.pendingEsc = false
			switch b {
			case DisconnectChar:
				e.escapedOnce.Do(func() { close(e.escaped) })
				if len(out) > 0 {
					return copy(p, out), nil
				}
				return 0, io.EOF
			case EscapeChar:
				out = append(out, EscapeChar)
				e.lineStart = false
				continue
			default:
				out = append(out, EscapeChar)
			}
		} else if e.lineStart && b == EscapeChar {
			e.pendingEsc = true
			continue
		}
		out = append(out, b)
		e.lineStart = b == '\r' || b == '\n'
	}

	// A held-back escape can grow the output past p; the rest is returned
	// by the next Read.
	copied := copy(p, out)
	if copied < len(out) {
		e.pendingByte = append(e.pendingByte, out[copied:]...)
		return copied, nil
	}
	if copied == 0 && err == nil {
		return 0, nil
	}
	return copied, err
}
