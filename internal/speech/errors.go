package speech

import (
	"errors"
	"fmt"
)

// ErrNoAudio indicates an empty input buffer, before any work is attempted.
var ErrNoAudio = errors.New("speech: empty audio buffer")

// ErrSynthesisTimeout indicates the synthesis job did not become available
// within the polling budget.
var ErrSynthesisTimeout = errors.New("speech: synthesis job timed out")

// ConfigError reports a missing credential or identifier. It always fails
// fast, before any network call.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("speech: %s is not configured", e.Missing)
}

// TranscodeError reports a failed ffmpeg invocation.
type TranscodeError struct {
	Reason string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: transcode failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("speech: transcode failed: %s", e.Reason)
}

func (e *TranscodeError) Unwrap() error { return e.Err }
