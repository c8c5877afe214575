package decoder

import (
	"fmt"
)

// SpawnError reports a decoder process that could not be started.
type SpawnError struct {
	URI string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn decoder for %s: %v", redact(e.URI), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
