package replay

import (
	"errors"
	"fmt"

	"github.com/hupe1980/baggo/model"
)

var (
	// ErrResourceExhausted is returned when the configured maximum of
	// concurrent sessions is reached. Callers should retry later
	// rather than queue.
	ErrResourceExhausted = errors.New("replay session limit reached")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("replay session not found")

	// ErrTopicsEmpty is returned when a replay is requested with no
	// topics at all.
	ErrTopicsEmpty = errors.New("no topics selected for replay")
)

// InvalidTopicError indicates a requested topic that the source bag
// does not contain. The session is rejected before any environment is
// allocated.
type InvalidTopicError struct {
	BagID model.BagID
	Topic string
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("topic %q not present in %s", e.Topic, e.BagID)
}

// EnvironmentError wraps a failure of the isolated execution
// environment during a session.
//
// The original underlying error can be accessed via errors.Unwrap.
type EnvironmentError struct {
	Handle Handle
	Op     string
	cause  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment %s: %s: %v", e.Handle, e.Op, e.cause)
}

func (e *EnvironmentError) Unwrap() error { return e.cause }
