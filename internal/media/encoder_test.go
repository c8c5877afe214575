package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(format Format, px ...byte) RawFrame {
	return RawFrame{
		Format: format,
		Data:   bytes.Repeat(px, format.Width*format.Height),
	}
}

func TestJPEGEncoderRoundTrip(t *testing.T) {
	format := Format{Width: 16, Height: 8, PixelFormat: RGB24}
	enc := NewJPEGEncoder(90)

	ef, err := enc.Encode(solidFrame(format, 200, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, EncodingBase64, ef.Encoding)

	raw, err := base64.StdEncoding.DecodeString(ef.Data)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	r, g, b, _ := img.At(4, 4).RGBA()
	assert.InDelta(t, 200, r>>8, 12)
	assert.InDelta(t, 10, g>>8, 12)
	assert.InDelta(t, 10, b>>8, 12)
}

func TestJPEGEncoderBGRSwapsChannels(t *testing.T) {
	format := Format{Width: 8, Height: 8, PixelFormat: BGR24}
	ef, err := NewJPEGEncoder(95).Encode(solidFrame(format, 10, 10, 200))
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(ef.Data)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	r, _, b, _ := img.At(1, 1).RGBA()
	assert.Greater(t, r>>8, b>>8)
}

func TestJPEGEncoderGrayAndRGBA(t *testing.T) {
	enc := NewJPEGEncoder(0)
	_, err := enc.Encode(solidFrame(Format{4, 4, Gray}, 128))
	assert.NoError(t, err)
	_, err = enc.Encode(solidFrame(Format{4, 4, RGBA}, 1, 2, 3, 255))
	assert.NoError(t, err)
}

func TestJPEGEncoderRejectsMalformedBuffer(t *testing.T) {
	f := RawFrame{Format: Format{4, 4, RGB24}, Data: make([]byte, 10)}
	_, err := NewJPEGEncoder(80).Encode(f)

	var eerr *EncodeError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, 10, eerr.Size)
}

func TestJPEGEncoderRejectsUnknownPixelFormat(t *testing.T) {
	f := RawFrame{Format: Format{2, 2, "nv12"}, Data: make([]byte, 6)}
	_, err := NewJPEGEncoder(80).Encode(f)

	var eerr *EncodeError
	require.True(t, errors.As(err, &eerr))
	assert.True(t, errors.Is(err, errUnsupportedPixelFormat))
}

func TestJPEGEncoderQualityClamp(t *testing.T) {
	assert.Equal(t, DefaultQuality, (&JPEGEncoder{}).quality())
	assert.Equal(t, 100, (&JPEGEncoder{Quality: 400}).quality())
	assert.Equal(t, 30, (&JPEGEncoder{Quality: 30}).quality())
}
