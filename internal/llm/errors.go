package llm

import (
	"errors"
	"fmt"
)

// TransientError marks a model call failure worth retrying, such as a
// timeout, 429 or 5xx response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient model error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a model call failure that retrying cannot fix, such as
// an auth failure or a malformed request.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal model error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err should stop the retry loop.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
