package activity

import (
	"errors"
	"fmt"
)

// ErrExtractionFailed is matched by ExtractionFailedError.
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionFailedError is returned when neither the first answer nor
// the single repair produced a valid activity.
type ExtractionFailedError struct {
	// Raw is the last model output that failed.
	Raw string
	Err error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("extraction failed after repair: %v", e.Err)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Err }

// Is matches ErrExtractionFailed.
func (e *ExtractionFailedError) Is(target error) bool { return target == ErrExtractionFailed }
