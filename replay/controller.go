package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/baggo/internal/clock"
	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/store"
)

// Options configure a Controller.
type Options struct {
	// MaxSessions bounds concurrently running sessions. Exceeding it
	// yields ErrResourceExhausted instead of queuing.
	MaxSessions int

	// Image is the environment image launched for each session.
	Image string

	Limits Limits

	// Clock paces message delivery and arms the session timeout.
	// Tests inject a manual clock; nil means the wall clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// DefaultOptions are the controller defaults.
var DefaultOptions = Options{
	MaxSessions: 4,
	Image:       "ros:noetic-ros-core",
	Limits: Limits{
		MemoryBytes: 512 << 20,
		CPUQuota:    100000,
		NetworkMode: "none",
	},
}

// Controller drives replay sessions: one isolated environment per
// session, original message timing scaled by the speed factor, and a
// guaranteed teardown on every exit path.
type Controller struct {
	store   *store.Store
	runtime Runtime
	clk     clock.Clock
	sem     *semaphore.Weighted
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*session
}

// session is the controller-internal state of one replay.
type session struct {
	mu       sync.Mutex
	rec      model.ReplaySession
	cancel   context.CancelCauseFunc
	teardown sync.Once
	done     chan struct{}
}

// snapshot returns a copy safe to hand to callers.
func (s *session) snapshot() *model.ReplaySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.rec
	cp.Topics = append([]string(nil), s.rec.Topics...)
	return &cp
}

// Causes distinguishing why a session context ended.
var (
	errCauseCancelled = errors.New("session cancelled")
	errCauseTimedOut  = errors.New("session timed out")
)

// New creates a Controller persisting through st and provisioning
// environments through rt.
func New(st *store.Store, rt Runtime, optFns ...func(o *Options)) *Controller {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultOptions.MaxSessions
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		store:   st,
		runtime: rt,
		clk:     clk,
		sem:     semaphore.NewWeighted(int64(opts.MaxSessions)),
		opts:    opts,
		logger:  logger,
	}
}

// Start validates the request, allocates an environment and begins
// streaming in the background. The returned session is a snapshot; poll
// Session for progress.
//
// Validation happens strictly before any resource is allocated: an
// empty or unknown topic selection never launches an environment.
func (c *Controller) Start(ctx context.Context, bagID model.BagID, topics []string, speedFactor float64, timeout time.Duration) (*model.ReplaySession, error) {
	bag, err := c.store.Get(ctx, bagID)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, ErrTopicsEmpty
	}
	for _, topic := range topics {
		if !bag.HasTopic(topic) {
			return nil, &InvalidTopicError{BagID: bagID, Topic: topic}
		}
	}
	if speedFactor <= 0 {
		speedFactor = 1.0
	}

	if !c.sem.TryAcquire(1) {
		return nil, ErrResourceExhausted
	}

	sess := &session{
		rec: model.ReplaySession{
			ID:          uuid.NewString(),
			BagID:       bagID,
			Topics:      append([]string(nil), topics...),
			Status:      model.SessionPending,
			SpeedFactor: speedFactor,
		},
		done: make(chan struct{}),
	}
	if err := c.store.CreateSession(ctx, &sess.rec); err != nil {
		c.sem.Release(1)
		return nil, err
	}

	handle, err := c.runtime.Launch(ctx, c.opts.Image, c.opts.Limits, map[string]string{
		SessionLabel: sess.rec.ID,
	})
	if err != nil {
		c.sem.Release(1)
		envErr := &EnvironmentError{Op: "launch", cause: err}
		c.finalize(sess, model.SessionFailed, nil, envErr)
		return nil, envErr
	}
	sess.rec.Environment = string(handle)

	runCtx, cancel := context.WithCancelCause(context.Background())
	sess.cancel = cancel

	c.mu.Lock()
	if c.active == nil {
		c.active = map[string]*session{}
	}
	c.active[sess.rec.ID] = sess
	c.mu.Unlock()

	go c.run(runCtx, sess, bag, handle, timeout)
	return sess.snapshot(), nil
}

// run streams the session to completion. It owns every transition past
// Pending and always releases the environment and the session slot.
func (c *Controller) run(ctx context.Context, sess *session, bag *model.BagRecord, handle Handle, timeout time.Duration) {
	defer c.sem.Release(1)
	defer close(sess.done)

	c.transition(sess, model.SessionRunning)

	if timeout > 0 {
		go func() {
			// Sleep ends early when the session context does, standing
			// the watcher and its timer down.
			if err := c.clk.Sleep(ctx, timeout); err == nil {
				sess.cancel(errCauseTimedOut)
			}
		}()
	}

	streamErr := c.stream(ctx, sess, bag, handle)

	// Streaming is over; settle the cause now so a deadline firing past
	// this point cannot relabel the session, and the timeout watcher is
	// released. The first cancel wins, so an earlier timeout or Cancel
	// keeps its cause.
	sess.cancel(nil)

	// Collect output with a context independent of the (possibly
	// already cancelled) session context.
	collectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	output, collectErr := c.runtime.CollectOutput(collectCtx, handle)
	cancel()

	// The environment is always torn down before the terminal status
	// is recorded.
	c.release(sess, handle)

	status, cause := c.classify(ctx, streamErr)
	if cause == nil && collectErr != nil && status == model.SessionCompleted {
		status = model.SessionFailed
		cause = &EnvironmentError{Handle: handle, Op: "collect output", cause: collectErr}
	}
	c.finalize(sess, status, output, cause)
}

// stream delivers the selected topics in original order, with
// inter-message gaps scaled by the speed factor. Cancellation is
// cooperative: it is honored between sends and while pacing.
func (c *Controller) stream(ctx context.Context, sess *session, bag *model.BagRecord, handle Handle) error {
	f, err := rosbag.Open(bag.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Scan(ctx)
	if err != nil {
		return err
	}

	var prev time.Time
	speed := sess.snapshot().SpeedFactor
	return f.Messages(ctx, info, sess.snapshot().Topics, func(m *rosbag.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !prev.IsZero() {
			gap := time.Duration(float64(m.Time.Sub(prev)) / speed)
			if err := c.clk.Sleep(ctx, gap); err != nil {
				return err
			}
		}
		prev = m.Time
		if err := c.runtime.Send(ctx, handle, Message{
			Topic: m.Topic,
			Type:  m.Type,
			Time:  m.Time,
			Data:  m.Data,
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &EnvironmentError{Handle: handle, Op: "send", cause: err}
		}
		return nil
	})
}

// classify maps the stream result and the session context cause onto a
// terminal status.
func (c *Controller) classify(ctx context.Context, streamErr error) (model.SessionStatus, error) {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errCauseTimedOut):
		return model.SessionTimedOut, cause
	case errors.Is(cause, errCauseCancelled):
		return model.SessionCancelled, cause
	}
	if streamErr != nil && !errors.Is(streamErr, rosbag.ErrNoMessages) {
		return model.SessionFailed, streamErr
	}
	return model.SessionCompleted, nil
}

// release tears the bound environment down exactly once.
func (c *Controller) release(sess *session, handle Handle) {
	sess.teardown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.runtime.Terminate(ctx, handle); err != nil {
			c.logger.Error("environment teardown failed",
				"session", sess.snapshot().ID, "environment", handle, "error", err)
		}
	})
}

func (c *Controller) transition(sess *session, status model.SessionStatus) {
	sess.mu.Lock()
	if !sess.rec.Status.CanTransition(status) {
		sess.mu.Unlock()
		return
	}
	sess.rec.Status = status
	if status == model.SessionRunning {
		sess.rec.StartedAt = c.clk.Now().UTC()
	}
	rec := sess.rec
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.UpdateSession(ctx, &rec); err != nil {
		c.logger.Error("session update failed", "session", rec.ID, "error", err)
	}
}

// finalize records the terminal state. Terminal means terminal: the
// session is removed from the active set and never mutated again.
func (c *Controller) finalize(sess *session, status model.SessionStatus, output []byte, cause error) {
	sess.mu.Lock()
	if sess.rec.Status.CanTransition(status) {
		sess.rec.Status = status
		sess.rec.EndedAt = c.clk.Now().UTC()
		sess.rec.Output = output
		if cause != nil {
			sess.rec.Error = cause.Error()
		}
	}
	rec := sess.rec
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.UpdateSession(ctx, &rec); err != nil {
		c.logger.Error("session finalize failed", "session", rec.ID, "error", err)
	}
	c.logger.Info("session finished", "session", rec.ID, "status", rec.Status, "bag", rec.BagID)

	c.mu.Lock()
	delete(c.active, rec.ID)
	c.mu.Unlock()
}

// Cancel requests cooperative cancellation of a running session. It
// returns once the request is registered; poll Session or use Wait for
// the terminal state.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	sess, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.cancel(errCauseCancelled)
	return nil
}

// Session returns the current state of a session, live or persisted.
func (c *Controller) Session(ctx context.Context, id string) (*model.ReplaySession, error) {
	c.mu.Lock()
	sess, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		return sess.snapshot(), nil
	}
	rec, err := c.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return rec, err
}

// Wait blocks until the session reaches a terminal state or ctx is
// done. Unknown IDs return immediately: the session is already final.
func (c *Controller) Wait(ctx context.Context, id string) error {
	c.mu.Lock()
	sess, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile terminates environments left behind by a previous process
// crash. Run it once on startup before accepting new sessions: any
// live environment not bound to an active session is an orphan.
func (c *Controller) Reconcile(ctx context.Context) error {
	handles, err := c.runtime.List(ctx)
	if err != nil {
		return err
	}

	bound := map[Handle]struct{}{}
	c.mu.Lock()
	for _, sess := range c.active {
		bound[Handle(sess.snapshot().Environment)] = struct{}{}
	}
	c.mu.Unlock()

	for _, h := range handles {
		if _, ok := bound[h]; ok {
			continue
		}
		if err := c.runtime.Terminate(ctx, h); err != nil {
			c.logger.Error("orphan teardown failed", "environment", h, "error", err)
			continue
		}
		c.logger.Info("orphan environment terminated", "environment", h)
	}
	return nil
}
