package media

import (
	"fmt"

	errors "golang.org/x/xerrors"
)

// PixelFormat names a raw pixel layout, using ffmpeg's pix_fmt spelling.
type PixelFormat string

const (
	RGB24 PixelFormat = "rgb24"
	BGR24 PixelFormat = "bgr24"
	RGBA  PixelFormat = "rgba"
	Gray  PixelFormat = "gray"
)

// Channels returns the number of bytes per pixel, or 0 if the format is not
// supported.
func (p PixelFormat) Channels() int {
	switch p {
	case RGB24, BGR24:
		return 3
	case RGBA:
		return 4
	case Gray:
		return 1
	}
	return 0
}

// Format describes the fixed geometry of every raw frame in a stream. It is
// configuration, not something discovered from the stream.
type Format struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// FrameSize returns the number of bytes in one raw frame.
func (f Format) FrameSize() int {
	return f.Width * f.Height * f.PixelFormat.Channels()
}

func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if f.PixelFormat.Channels() == 0 {
		return errors.Errorf("%q: %w", f.PixelFormat, errUnsupportedPixelFormat)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d/%s", f.Width, f.Height, f.PixelFormat)
}

// RawFrame is one uncompressed picture exactly as emitted by the decoder.
type RawFrame struct {
	Format
	Data []byte
}

// EncodedFrame is a compressed picture in a text-safe encoding, addressed to
// a stream.
type EncodedFrame struct {
	StreamID string
	Encoding string
	Data     string
}
