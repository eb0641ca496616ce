package completion

import (
	"errors"
	"fmt"
)

// Kind classifies a completion failure.
type Kind int

const (
	// KindUpstream is any non-retryable service failure.
	KindUpstream Kind = iota
	// KindOverloaded means the service stayed busy through every retry.
	KindOverloaded
	// KindEmpty means the service answered with no text.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindOverloaded:
		return "overloaded"
	case KindEmpty:
		return "empty"
	default:
		return "upstream"
	}
}

// ErrOverloaded marks a transient service-busy condition. Backends wrap it so
// the client knows the call may be retried.
var ErrOverloaded = errors.New("completion service overloaded")

// ServiceError is returned by Client.Complete when no reply could be produced.
type ServiceError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or KindUpstream for foreign errors.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUpstream
}

// FallbackText renders err as the coach-facing error text.
func FallbackText(err error) string {
	if err == nil {
		return ""
	}
	var se *ServiceError
	if errors.As(err, &se) && se.Err != nil {
		return "Error generating response: " + se.Err.Error()
	}
	return "Error generating response: " + err.Error()
}
