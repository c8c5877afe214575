package media

import (
	"io"
)

// ReadFrame fills buf from r. It blocks until len(buf) bytes are available or
// the stream ends. A stream that ends before the first byte yields
// ErrEndOfStream. A stream that ends, or fails, part way through a frame
// yields a *ReadError; buf then holds garbage and must not be used.
func ReadFrame(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case n == 0 && err == io.EOF:
		return ErrEndOfStream
	case err == io.ErrUnexpectedEOF:
		return &ReadError{Got: n, Want: len(buf)}
	default:
		return &ReadError{Got: n, Want: len(buf), Err: err}
	}
}

// FrameReader reads consecutive fixed-size frames from a decoder's output.
// It reuses a single buffer, so each frame is only valid until the next call
// to Read.
type FrameReader struct {
	r      io.Reader
	format Format
	buf    []byte
}

func NewFrameReader(r io.Reader, format Format) *FrameReader {
	return &FrameReader{
		r:      r,
		format: format,
		buf:    make([]byte, format.FrameSize()),
	}
}

func (fr *FrameReader) Read() (RawFrame, error) {
	if err := ReadFrame(fr.r, fr.buf); err != nil {
		return RawFrame{}, err
	}
	return RawFrame{Format: fr.format, Data: fr.buf}, nil
}
