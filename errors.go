package baggo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/baggo/replay"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/store"
)

var (
	// ErrNotFound is returned when a bag or session is not found.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when the catalog write path stayed
	// contended past the retry budget.
	ErrBusy = errors.New("catalog busy")

	// ErrTooManySessions is returned when the replay session limit is
	// reached.
	ErrTooManySessions = errors.New("too many replay sessions")

	// ErrUnsupportedFormat is returned for files that are not
	// parseable ROS bags.
	ErrUnsupportedFormat = rosbag.ErrUnsupportedFormat
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, replay.ErrSessionNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, store.ErrStoreBusy) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if errors.Is(err, replay.ErrResourceExhausted) {
		return fmt.Errorf("%w: %w", ErrTooManySessions, err)
	}

	return err
}
