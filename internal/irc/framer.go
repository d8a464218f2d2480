package irc

import (
	"bytes"
	"io"

	"github.com/matt0x6f/cascade-core/internal/constants"
)

// Framer splits an append-only byte stream into protocol lines.
// Lines may end in LF or CRLF; terminators are stripped and empty lines skipped.
type Framer struct {
	buf        []byte
	max        int
	discarding bool
}

// NewFramer creates a framer enforcing max bytes per line, terminator included.
// A max of zero selects the protocol default.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = constants.MaxLineLength
	}
	return &Framer{max: max}
}

// Write appends transport bytes. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	if len(f.buf) == 0 && cap(f.buf) > 4*f.max {
		// drop a backing array grown by a burst
		f.buf = nil
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete line. ok is false when more input is needed.
// An oversized line yields ErrFrameTooLong exactly once; its remaining bytes
// are discarded up to the next LF.
func (f *Framer) Next() (line string, ok bool, err error) {
	for {
		if f.discarding {
			i := bytes.IndexByte(f.buf, '\n')
			if i < 0 {
				f.buf = f.buf[:0]
				return "", false, nil
			}
			f.buf = f.buf[i+1:]
			f.discarding = false
			continue
		}

		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			if len(f.buf) >= f.max {
				f.buf = f.buf[:0]
				f.discarding = true
				return "", false, ErrFrameTooLong
			}
			return "", false, nil
		}

		raw := f.buf[:i]
		f.buf = f.buf[i+1:]
		if i+1 > f.max {
			return "", false, ErrFrameTooLong
		}
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		if len(raw) == 0 {
			continue
		}
		return string(raw), true, nil
	}
}

// LineReader reads framed lines from a transport.
type LineReader struct {
	r      io.Reader
	framer *Framer
	chunk  []byte
	err    error
}

// NewLineReader wraps r with a framer enforcing max bytes per line.
func NewLineReader(r io.Reader, max int) *LineReader {
	return &LineReader{
		r:      r,
		framer: NewFramer(max),
		chunk:  make([]byte, 4096),
	}
}

// ReadLine blocks until a line is available. ErrFrameTooLong is recoverable:
// the caller may keep reading. Any other error comes from the transport and
// is only reported after every buffered line has been returned.
func (lr *LineReader) ReadLine() (string, error) {
	for {
		line, ok, err := lr.framer.Next()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
		if lr.err != nil {
			return "", lr.err
		}
		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.framer.Write(lr.chunk[:n])
		}
		if err != nil {
			lr.err = err
		}
	}
}
