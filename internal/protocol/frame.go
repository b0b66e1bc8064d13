package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned by ReadFrame after it has skipped the rest of
// an oversized line; the stream is positioned at the next frame.
var ErrFrameTooLarge = errors.New("frame too large")

type FrameReader struct {
	r   *bufio.Reader
	max int
}

func NewFrameReader(r io.Reader, maxBytes int) *FrameReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024), max: maxBytes}
}

// ReadFrame returns the next line without its terminator. A final line that
// ends at EOF without a newline is still returned; io.EOF follows on the next
// call.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var buf []byte
	tooLarge := false
	for {
		chunk, err := f.r.ReadSlice('\n')
		// The limit applies to the line without its terminator; keep room
		// for a CRLF until the line is complete.
		if !tooLarge {
			if len(buf)+len(chunk) > f.max+2 {
				tooLarge = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			line := trimEOL(buf)
			if tooLarge || len(line) > f.max {
				return nil, ErrFrameTooLarge
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0 && !tooLarge:
			line := trimEOL(buf)
			if len(line) > f.max {
				return nil, ErrFrameTooLarge
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// FrameWriter serialises responses onto a stream, one per line.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// ErrUnencodable is returned when a response could not be rendered. A
// generic ERROR frame has been written in its place.
var ErrUnencodable = errors.New("response not encodable")

func (f *FrameWriter) WriteResponse(r Response) error {
	b, encErr := Encode(r)
	if encErr != nil {
		b, _ = Encode(Failure(StatusError, "internal error"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(b); err != nil {
		return err
	}
	if encErr != nil {
		return fmt.Errorf("%w: %v", ErrUnencodable, encErr)
	}
	return nil
}
