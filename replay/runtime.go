package replay

import (
	"context"
	"time"
)

// Handle identifies one isolated execution environment. It is opaque
// to everything except the Runtime that issued it, and is owned
// exclusively by the controller for the lifetime of one session.
type Handle string

// Limits bound the resources granted to an environment.
type Limits struct {
	MemoryBytes int64
	CPUQuota    int64
	// NetworkMode defaults to "none": replay targets must not reach out.
	NetworkMode string
}

// Message is one recorded message delivered to the system under test.
type Message struct {
	Topic string
	Type  string
	Time  time.Time
	Data  []byte
}

// Runtime provisions isolated execution environments. Implementations
// must make Terminate idempotent: the controller guarantees exactly one
// teardown per session, but a reconciliation pass after a crash may
// terminate an environment a second time.
type Runtime interface {
	// Launch provisions an environment from image with the given
	// limits, tagged with labels for later reconciliation.
	Launch(ctx context.Context, image string, limits Limits, labels map[string]string) (Handle, error)

	// Send delivers one message to the environment.
	Send(ctx context.Context, h Handle, msg Message) error

	// CollectOutput drains the environment's captured output.
	CollectOutput(ctx context.Context, h Handle) ([]byte, error)

	// Terminate tears the environment down and releases its resources.
	Terminate(ctx context.Context, h Handle) error

	// List returns the handles of live environments previously
	// launched by this runtime (matched via labels), for crash
	// recovery.
	List(ctx context.Context) ([]Handle, error)
}

// SessionLabel tags every launched environment with its session ID so
// orphans can be found after a controller crash.
const SessionLabel = "baggo.session"
