package agent

import (
	"errors"
	"fmt"
)

// ErrTransport is matched by *TransportError.
var ErrTransport = errors.New("transport failure")

// TransportError reports that the model gateway or the conversation
// store could not be reached. It is fatal for the turn: no partial
// answer is returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
