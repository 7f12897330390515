package transcriber

import (
	"errors"
	"fmt"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInference        = errors.New("inference failed")
)

// RecognitionError reports a failed batch recognition. It never ends a
// session; the window simply has no result.
type RecognitionError struct {
	Reason error
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition: %v", e.Reason)
	}
	return fmt.Sprintf("recognition: %v: %v", e.Reason, e.Err)
}

func (e *RecognitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func NewRecognitionError(reason, err error) *RecognitionError {
	return &RecognitionError{Reason: reason, Err: err}
}
