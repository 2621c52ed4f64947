package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// FrameReader reads newline-terminated envelope frames from a stream,
// enforcing a maximum frame size. Unlike bufio.Scanner, which sticks in a
// permanent error state the first time a token fails, FrameReader
// resynchronizes to the start of the next frame after a malformed or
// oversize one — readLoop (pkg/transport) relies on that to drop a single
// bad frame and keep reading the rest of the stream rather than tearing the
// connection down.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewFrameReader wraps r, capping any single frame at maxSize bytes.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 4096), maxSize: maxSize}
}

// ReadEnvelope reads the next frame and parses it. Returns io.EOF when the
// stream closes cleanly between frames. A malformed or oversize frame comes
// back as *ErrFrameMalformed / *ErrFrameOversize — both recoverable, the
// reader is already positioned at the start of the next frame when either is
// returned. Any other error means the stream itself broke and is not.
func (fr *FrameReader) ReadEnvelope() (*Envelope, error) {
	line, oversize, err := fr.readLine()
	if err != nil {
		return nil, err
	}
	if oversize {
		return nil, &ErrFrameOversize{Limit: fr.maxSize}
	}

	envelope, err := Unmarshal(line)
	if err != nil {
		return nil, &ErrFrameMalformed{Err: err}
	}
	return envelope, nil
}

// readLine reads through the next newline, never buffering more than
// maxSize bytes. A line longer than maxSize is still fully drained from the
// stream — so the following call starts at the next frame — but reported
// via the oversize flag instead of being returned.
func (fr *FrameReader) readLine() (line []byte, oversize bool, err error) {
	for {
		chunk, rerr := fr.r.ReadSlice('\n')
		if len(chunk) > 0 && !oversize {
			if len(line)+len(chunk) > fr.maxSize {
				oversize = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch rerr {
		case nil:
			return bytes.TrimRight(line, "\n"), oversize, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(chunk) == 0 {
				return nil, false, io.EOF
			}
			// a final frame with no trailing newline before the stream
			// closed: surface it once, then plain EOF on the next call.
			return bytes.TrimRight(line, "\n"), oversize, nil
		default:
			return nil, false, rerr
		}
	}
}

// WriteEnvelope writes one envelope as a single newline-terminated frame.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	frame, err := e.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}
