// Package probe asks an RTSP source for the size of its video.
package probe

import (
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/rtsp"
	"github.com/pkg/errors"

	"github.com/lanikai/rtsprelay/internal/logging"
)

var log = logging.DefaultLogger.WithTag("probe")

var errNoVideo = errors.New("no video stream")

const DefaultTimeout = 5 * time.Second

// Prober describes RTSP sources without decoding them.
type Prober struct {
	Timeout time.Duration
}

func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{Timeout: timeout}
}

// Probe returns the width and height of the first video stream at uri, as
// announced by the source's SDP.
func (p *Prober) Probe(uri string) (width, height int, err error) {
	cli, err := rtsp.DialTimeout(uri, p.Timeout)
	if err != nil {
		return 0, 0, errors.Wrap(err, "probe")
	}
	defer cli.Close()
	cli.RtspTimeout = p.Timeout

	streams, err := cli.Streams()
	if err != nil {
		return 0, 0, errors.Wrap(err, "probe")
	}

	for _, s := range streams {
		if v, ok := s.(av.VideoCodecData); ok {
			log.Debug("%v stream: %dx%d", v.Type(), v.Width(), v.Height())
			return v.Width(), v.Height(), nil
		}
	}
	return 0, 0, errNoVideo
}
