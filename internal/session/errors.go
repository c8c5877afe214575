package session

import (
	"fmt"

	"github.com/lanikai/rtsprelay/internal/media"
)

// MaxAttemptsError is the terminal failure of a session whose reconnection
// budget is exhausted. Its message is what subscribers are told.
type MaxAttemptsError struct {
	Attempts int
	Last     error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("stream unavailable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *MaxAttemptsError) Unwrap() error {
	return e.Last
}

// GeometryError reports a source whose real resolution does not match the
// configured frame format. Reconnecting cannot fix it.
type GeometryError struct {
	Want          media.Format
	Width, Height int
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("source is %dx%d but frames are configured as %v", e.Width, e.Height, e.Want)
}
