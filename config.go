//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for the relay
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package rtsprelay

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/rtsprelay/internal/decoder"
	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/media"
	"github.com/lanikai/rtsprelay/internal/session"
)

type Config struct {
	// HTTP address for viewer websockets.
	Listen         string   `yaml:"listen"`
	MaxConnections int      `yaml:"max_connections"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Messages queued per viewer before the oldest is dropped.
	SendBuffer int `yaml:"send_buffer"`

	// LOGLEVEL-style directives, e.g. "info,session=debug".
	LogLevel string `yaml:"log_level"`

	Database DatabaseConfig `yaml:"database"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Session  SessionConfig  `yaml:"session"`
}

type DatabaseConfig struct {
	// sqlite database file.
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

type DecoderConfig struct {
	Command     string   `yaml:"command"`
	Transport   string   `yaml:"transport"`
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	PixelFormat string   `yaml:"pixel_format"`
	Scale       bool     `yaml:"scale"`
	InputArgs   []string `yaml:"input_args"`
	OutputArgs  []string `yaml:"output_args"`
}

type EncoderConfig struct {
	// JPEG quality, 1-100.
	Quality int `yaml:"quality"`
}

type SessionConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	FrameInterval time.Duration `yaml:"frame_interval"`

	// "reconnect" or "stop".
	EndOfStream string `yaml:"end_of_stream"`

	// Ask the source for its resolution before each connection.
	Probe          bool          `yaml:"probe"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	StrictGeometry bool          `yaml:"strict_geometry"`
}

func DefaultConfig() Config {
	return Config{
		Listen:     ":8000",
		SendBuffer: 4,
		Database: DatabaseConfig{
			Path:      "streams.db",
			CacheSize: 256,
		},
		Decoder: DecoderConfig{
			Command:     decoder.DefaultCommand,
			Transport:   string(decoder.TCP),
			Width:       1920,
			Height:      1080,
			PixelFormat: string(media.RGB24),
			Scale:       true,
		},
		Encoder: EncoderConfig{
			Quality: media.DefaultQuality,
		},
		Session: SessionConfig{
			MaxAttempts:   session.DefaultMaxAttempts,
			RetryDelay:    session.DefaultRetryDelay,
			FrameInterval: 33 * time.Millisecond, // ~30 fps
			EndOfStream:   string(session.EndOfStreamReconnect),
			ProbeTimeout:  5 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return config, errors.Wrapf(err, "parse %s", path)
	}
	return config, config.Validate()
}

// Format is the raw frame format the decoder is asked to produce.
func (c Config) Format() media.Format {
	return media.Format{
		Width:       c.Decoder.Width,
		Height:      c.Decoder.Height,
		PixelFormat: media.PixelFormat(c.Decoder.PixelFormat),
	}
}

func (c Config) Validate() error {
	if err := c.Format().Validate(); err != nil {
		return errors.Wrap(err, "decoder")
	}
	if _, err := decoder.ParseTransport(c.Decoder.Transport); err != nil {
		return err
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		return errors.Errorf("encoder quality %d out of range 1-100", c.Encoder.Quality)
	}
	if c.Session.MaxAttempts < 1 {
		return errors.Errorf("max_attempts must be at least 1, got %d", c.Session.MaxAttempts)
	}
	if c.Session.RetryDelay < 0 || c.Session.FrameInterval < 0 {
		return errors.New("durations must not be negative")
	}
	switch session.EndOfStreamPolicy(c.Session.EndOfStream) {
	case session.EndOfStreamReconnect, session.EndOfStreamStop:
	default:
		return errors.Errorf("end_of_stream must be %q or %q, got %q",
			session.EndOfStreamReconnect, session.EndOfStreamStop, c.Session.EndOfStream)
	}
	if c.LogLevel != "" {
		for _, d := range splitDirectives(c.LogLevel) {
			if _, err := logging.ParseLevel(d); err != nil {
				return errors.Wrap(err, "log_level")
			}
		}
	}
	return nil
}

// splitDirectives returns the level part of each LOGLEVEL directive.
func splitDirectives(s string) []string {
	var levels []string
	for _, d := range strings.Split(s, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if i := strings.IndexByte(d, '='); i >= 0 {
			d = d[i+1:]
		}
		levels = append(levels, d)
	}
	return levels
}
