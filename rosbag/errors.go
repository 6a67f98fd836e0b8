package rosbag

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when a file does not carry the
// supported bag magic/version, or when a chunk declares a compression
// scheme the reader does not know.
//
// Implementations wrap this sentinel; use errors.Is to test for it.
var ErrUnsupportedFormat = errors.New("unsupported bag format")

// ErrNoMessages is returned by message iteration when the topic
// selection matches nothing in the bag.
var ErrNoMessages = errors.New("no messages for selected topics")

// ParseError indicates a structurally invalid record. The file is
// internally inconsistent (as opposed to merely cut short, which is
// reported via Info.Truncated instead).
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ParseError struct {
	Offset int64 // byte offset of the offending record
	Msg    string
	cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bag parse error at offset %d: %s", e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.cause }

func parseErrorf(offset int64, format string, args ...any) *ParseError {
	return &ParseError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fmt.Sprintf(format, args...))
}
