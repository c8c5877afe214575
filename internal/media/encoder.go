//////////////////////////////////////////////////////////////////////////////
//
// JPEG frame encoder
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"

	errors "golang.org/x/xerrors"
)

const (
	DefaultQuality = 80

	// Transport encoding of EncodedFrame.Data.
	EncodingBase64 = "base64"
)

// Encoder turns raw frames into compressed, text-safe frames.
type Encoder interface {
	Encode(RawFrame) (EncodedFrame, error)
}

// JPEGEncoder compresses frames as baseline JPEG and base64 encodes the
// result. It keeps scratch buffers between calls and so is not safe for
// concurrent use; each session owns its own encoder.
type JPEGEncoder struct {
	Quality int

	rgba *image.RGBA
	gray *image.Gray
	out  bytes.Buffer
}

func NewJPEGEncoder(quality int) *JPEGEncoder {
	return &JPEGEncoder{Quality: quality}
}

func (e *JPEGEncoder) quality() int {
	switch {
	case e.Quality <= 0:
		return DefaultQuality
	case e.Quality > 100:
		return 100
	}
	return e.Quality
}

func (e *JPEGEncoder) Encode(f RawFrame) (EncodedFrame, error) {
	img, err := e.image(f)
	if err != nil {
		return EncodedFrame{}, &EncodeError{Format: f.Format, Size: len(f.Data), Err: err}
	}

	e.out.Reset()
	if err := jpeg.Encode(&e.out, img, &jpeg.Options{Quality: e.quality()}); err != nil {
		return EncodedFrame{}, &EncodeError{Format: f.Format, Size: len(f.Data), Err: err}
	}

	return EncodedFrame{
		Encoding: EncodingBase64,
		Data:     base64.StdEncoding.EncodeToString(e.out.Bytes()),
	}, nil
}

// image wraps the raw pixels in an image.Image without changing them.
func (e *JPEGEncoder) image(f RawFrame) (image.Image, error) {
	if err := f.Format.Validate(); err != nil {
		return nil, err
	}
	if len(f.Data) != f.FrameSize() {
		return nil, errors.Errorf("buffer holds %d bytes, %v needs %d", len(f.Data), f.Format, f.FrameSize())
	}

	r := image.Rect(0, 0, f.Width, f.Height)
	switch f.PixelFormat {
	case Gray:
		if e.gray == nil || e.gray.Rect != r {
			e.gray = image.NewGray(r)
		}
		copy(e.gray.Pix, f.Data)
		return e.gray, nil
	case RGBA:
		if e.rgba == nil || e.rgba.Rect != r {
			e.rgba = image.NewRGBA(r)
		}
		copy(e.rgba.Pix, f.Data)
		return e.rgba, nil
	}

	// Expand 24-bit pixels to RGBA.
	if e.rgba == nil || e.rgba.Rect != r {
		e.rgba = image.NewRGBA(r)
	}
	ri, bi := 0, 2
	if f.PixelFormat == BGR24 {
		ri, bi = 2, 0
	}
	dst := e.rgba.Pix
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		dst[j] = f.Data[i+ri]
		dst[j+1] = f.Data[i+1]
		dst[j+2] = f.Data[i+bi]
		dst[j+3] = 0xff
	}
	return e.rgba, nil
}
