package rtsprelay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtsprelay/internal/media"
)

func writeConfig(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, media.Format{Width: 1920, Height: 1080, PixelFormat: media.RGB24}, c.Format())
	assert.Equal(t, 80, c.Encoder.Quality)
	assert.Equal(t, 5, c.Session.MaxAttempts)
	assert.Equal(t, 5*time.Second, c.Session.RetryDelay)
	assert.Equal(t, 33*time.Millisecond, c.Session.FrameInterval)
	assert.Equal(t, "reconnect", c.Session.EndOfStream)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
allowed_origins: [https://example.com]
log_level: info,session=debug
database:
  path: /tmp/relay.db
decoder:
  transport: udp
  width: 640
  height: 480
  pixel_format: gray
  input_args: ["-stimeout", "5000000"]
encoder:
  quality: 60
session:
  max_attempts: 3
  retry_delay: 250ms
  end_of_stream: stop
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", c.Listen)
	assert.Equal(t, []string{"https://example.com"}, c.AllowedOrigins)
	assert.Equal(t, "/tmp/relay.db", c.Database.Path)
	assert.Equal(t, "udp", c.Decoder.Transport)
	assert.Equal(t, media.Format{Width: 640, Height: 480, PixelFormat: media.Gray}, c.Format())
	assert.Equal(t, []string{"-stimeout", "5000000"}, c.Decoder.InputArgs)
	assert.Equal(t, 60, c.Encoder.Quality)
	assert.Equal(t, 3, c.Session.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, c.Session.RetryDelay)
	assert.Equal(t, "stop", c.Session.EndOfStream)

	// Unset keys keep their defaults.
	assert.Equal(t, "ffmpeg", c.Decoder.Command)
	assert.True(t, c.Decoder.Scale)
	assert.Equal(t, 33*time.Millisecond, c.Session.FrameInterval)
}

func TestLoadConfigInvalid(t *testing.T) {
	for name, text := range map[string]string{
		"syntax":        "listen: [",
		"pixel format":  "decoder: {pixel_format: yuv420p}",
		"geometry":      "decoder: {width: 0}",
		"transport":     "decoder: {transport: http}",
		"quality":       "encoder: {quality: 101}",
		"attempts":      "session: {max_attempts: 0}",
		"end of stream": "session: {end_of_stream: pause}",
		"log level":     "log_level: loud",
		"duration":      "session: {retry_delay: soon}",
	} {
		_, err := LoadConfig(writeConfig(t, text))
		assert.Error(t, err, name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, os.IsNotExist(err))
}
