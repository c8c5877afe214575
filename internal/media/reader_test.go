package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tiny = Format{Width: 2, Height: 2, PixelFormat: RGB24}

func TestReadFrameComplete(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3}, 8) // two frames
	fr := NewFrameReader(bytes.NewReader(data), tiny)

	for i := 0; i < 2; i++ {
		f, err := fr.Read()
		require.NoError(t, err)
		assert.Len(t, f.Data, tiny.FrameSize())
		assert.Equal(t, tiny, f.Format)
	}

	_, err := fr.Read()
	assert.Equal(t, ErrEndOfStream, err)
}

func TestReadFrameAcrossShortReads(t *testing.T) {
	// OneByteReader forces many partial reads; the frame must still be whole.
	data := bytes.Repeat([]byte{9}, tiny.FrameSize())
	buf := make([]byte, tiny.FrameSize())
	require.NoError(t, ReadFrame(iotest.OneByteReader(bytes.NewReader(data)), buf))
	assert.Equal(t, data, buf)
}

func TestReadFrameShortIsReadError(t *testing.T) {
	buf := make([]byte, tiny.FrameSize())
	err := ReadFrame(bytes.NewReader([]byte{1, 2, 3, 4, 5}), buf)

	var rerr *ReadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 5, rerr.Got)
	assert.Equal(t, tiny.FrameSize(), rerr.Want)
	assert.NotEqual(t, ErrEndOfStream, err)
}

func TestReadFrameEmptyIsEndOfStream(t *testing.T) {
	buf := make([]byte, 4)
	assert.Equal(t, ErrEndOfStream, ReadFrame(bytes.NewReader(nil), buf))
}

func TestReadFrameFailureIsReadError(t *testing.T) {
	boom := errors.New("pipe closed")
	r := io.MultiReader(bytes.NewReader([]byte{1}), iotest.ErrReader(boom))

	err := ReadFrame(r, make([]byte, 4))
	var rerr *ReadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 1, rerr.Got)
	assert.True(t, errors.Is(err, boom))
}

func TestFrameSize(t *testing.T) {
	assert.Equal(t, 1920*1080*3, Format{1920, 1080, RGB24}.FrameSize())
	assert.Equal(t, 4*4*4, Format{4, 4, RGBA}.FrameSize())
	assert.Equal(t, 0, Format{4, 4, "yuv420p"}.FrameSize())
	assert.Error(t, Format{0, 4, RGB24}.Validate())
	assert.NoError(t, tiny.Validate())
}

func TestValidateUnsupportedPixelFormat(t *testing.T) {
	err := Format{4, 4, "yuv420p"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUnsupportedPixelFormat))
	assert.Contains(t, err.Error(), `"yuv420p"`)
	assert.Contains(t, err.Error(), "unsupported pixel format")
}
