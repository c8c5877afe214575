//////////////////////////////////////////////////////////////////////////////
//
// Frame errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"fmt"

	errors "golang.org/x/xerrors"
)

// ErrEndOfStream is returned when the decoder output closed before the first
// byte of a frame.
var ErrEndOfStream = errors.New("end of stream")

var errUnsupportedPixelFormat = errors.New("unsupported pixel format")

// ReadError reports a frame that could not be read completely. Got is the
// number of bytes received before the failure.
type ReadError struct {
	Got  int
	Want int
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("short frame: got %d of %d bytes", e.Got, e.Want)
	}
	return fmt.Sprintf("frame read failed after %d of %d bytes: %v", e.Got, e.Want, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// EncodeError reports a raw frame that could not be compressed.
type EncodeError struct {
	Format Format
	Size   int
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %v frame (%d bytes): %v", e.Format, e.Size, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
