package meshengine

import "bytes"

// MaxLineSize bounds a single buffered line. A partial line that grows past
// it is discarded up to its terminating newline.
const MaxLineSize = 1 << 20

var dataPrefix = []byte("data: ")

// Framer splits a byte stream into lines and forwards the payload of every
// `data: ` line. It is not safe for concurrent use.
type Framer struct {
	buf      []byte
	dropping bool
	dropped  int
}

// Feed appends chunk and calls emit for each complete data line. The slice
// passed to emit is only valid for the duration of the call.
func (f *Framer) Feed(chunk []byte, emit func([]byte)) {
	f.buf = append(f.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := f.buf[start : start+i]
		start += i + 1

		if f.dropping {
			f.dropping = false
			continue
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if payload, ok := bytes.CutPrefix(line, dataPrefix); ok {
			emit(payload)
		}
	}

	rest := copy(f.buf, f.buf[start:])
	f.buf = f.buf[:rest]
	if len(f.buf) > MaxLineSize {
		f.buf = f.buf[:0]
		f.dropping = true
		f.dropped++
	}
}

// Reset discards any buffered partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.dropping = false
}

// Dropped reports how many oversized lines have been discarded.
func (f *Framer) Dropped() int { return f.dropped }

// Buffered reports the length of the pending partial line.
func (f *Framer) Buffered() int { return len(f.buf) }
