// Package baggo provides an embedded cockpit for ROS bag recordings.
//
// Baggo scans directory trees of bag files, extracts their metadata
// without deserializing message payloads, and keeps the results in a
// queryable SQLite catalog. Ingested bags can then be replayed into
// isolated container environments with their original timing,
// including:
//
//   - Fault-tolerant bag parsing: truncated recordings yield partial
//     metadata instead of errors
//   - Concurrent ingestion with per-file failure isolation
//   - Idempotent catalog: re-ingesting unchanged files is a no-op
//   - Replay sessions with speed scaling, timeouts, cancellation and
//     guaranteed environment teardown
//   - Optional archival of ingested bags to local, MinIO or S3 blob
//     storage
package baggo

import (
	"context"
	"time"

	"github.com/hupe1980/baggo/ingest"
	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/replay"
	"github.com/hupe1980/baggo/replay/dockerd"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/store"
)

// Cockpit ties the catalog store, the ingestion orchestrator and the
// replay controller together behind a single handle.
type Cockpit struct {
	store      *store.Store
	ingestor   *ingest.Orchestrator
	controller *replay.Controller
	metrics    MetricsCollector
	logger     *Logger
}

// New opens (or creates) the catalog database at dbPath and returns a
// ready-to-use Cockpit.
func New(dbPath string, optFns ...Option) (*Cockpit, error) {
	opts := applyOptions(optFns)

	st, err := store.Open(dbPath, opts.storeOptions...)
	if err != nil {
		return nil, translateError(err)
	}

	ck := &Cockpit{
		store:   st,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}

	ingestOptFns := append([]func(*ingest.Options){
		func(o *ingest.Options) {
			o.Logger = opts.logger.Logger
		},
	}, opts.ingestOptions...)
	ck.ingestor = ingest.New(st, ingestOptFns...)

	rt := opts.runtime
	if rt == nil {
		rt = dockerd.New()
	}

	replayOptFns := append([]func(*replay.Options){
		func(o *replay.Options) {
			o.Logger = opts.logger.Logger
		},
	}, opts.replayOptions...)
	ck.controller = replay.New(st, rt, replayOptFns...)

	return ck, nil
}

// Ingest walks root, ingests every bag found underneath it and returns
// a per-outcome summary. Individual file failures are collected in the
// summary, not returned as an error; the error reports walk failures
// or context cancellation.
func (ck *Cockpit) Ingest(ctx context.Context, root string) (*ingest.Summary, error) {
	start := time.Now()
	summary, err := ck.ingestor.Ingest(ctx, root)
	err = translateError(err)
	duration := time.Since(start)
	if summary != nil {
		ck.metrics.RecordIngest(summary.Ingested+summary.Unchanged, summary.Failed, duration)
	}
	ck.logger.LogIngest(ctx, root, summary, duration, err)
	return summary, err
}

// Bag returns the catalog record for a single bag.
func (ck *Cockpit) Bag(ctx context.Context, id model.BagID) (*model.BagRecord, error) {
	rec, err := ck.store.Get(ctx, id)
	return rec, translateError(err)
}

// BagByPath returns the catalog record for the bag at the given file
// path.
func (ck *Cockpit) BagByPath(ctx context.Context, path string) (*model.BagRecord, error) {
	rec, err := ck.store.GetByPath(ctx, path)
	return rec, translateError(err)
}

// Bags returns catalog records matching the query.
func (ck *Cockpit) Bags(ctx context.Context, q store.Query) ([]*model.BagRecord, error) {
	start := time.Now()
	recs, err := ck.store.List(ctx, q)
	err = translateError(err)
	ck.metrics.RecordQuery(time.Since(start), err)
	return recs, err
}

// DeleteBag removes a bag from the catalog. The file on disk is left
// untouched. Deleting an unknown bag returns ErrNotFound.
func (ck *Cockpit) DeleteBag(ctx context.Context, id model.BagID) error {
	err := translateError(ck.store.Delete(ctx, id))
	ck.logger.LogDelete(ctx, id, err)
	return err
}

// Stats returns catalog-wide aggregates.
func (ck *Cockpit) Stats(ctx context.Context) (*store.Stats, error) {
	st, err := ck.store.Stats(ctx)
	return st, translateError(err)
}

// Series re-scans the bag on disk and returns per-topic message rate
// series bucketed over the recording interval. buckets <= 0 selects a
// default resolution.
func (ck *Cockpit) Series(ctx context.Context, id model.BagID, buckets int) ([]rosbag.TopicSeries, error) {
	rec, err := ck.store.Get(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}

	f, err := rosbag.Open(rec.FilePath)
	if err != nil {
		return nil, translateError(err)
	}
	defer f.Close()

	info, err := f.Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	return rosbag.Series(info, buckets), nil
}

// StartReplay launches a replay session for the given bag. The call
// returns as soon as the session is running; use WaitReplay or poll
// ReplaySession to observe completion.
func (ck *Cockpit) StartReplay(ctx context.Context, id model.BagID, topics []string, speedFactor float64, timeout time.Duration) (*model.ReplaySession, error) {
	sess, err := ck.controller.Start(ctx, id, topics, speedFactor, timeout)
	err = translateError(err)
	ck.metrics.RecordReplayStart(err)
	ck.logger.LogReplayStart(ctx, id, topics, speedFactor, err)
	return sess, err
}

// CancelReplay requests cancellation of a running session. Cancelling
// a session that already reached a terminal state is a no-op.
func (ck *Cockpit) CancelReplay(id string) error {
	return translateError(ck.controller.Cancel(id))
}

// ReplaySession returns the current state of a session, live or
// historical.
func (ck *Cockpit) ReplaySession(ctx context.Context, id string) (*model.ReplaySession, error) {
	sess, err := ck.controller.Session(ctx, id)
	return sess, translateError(err)
}

// ReplaySessions returns the session history of a bag, newest first.
func (ck *Cockpit) ReplaySessions(ctx context.Context, id model.BagID) ([]*model.ReplaySession, error) {
	sessions, err := ck.store.ListSessions(ctx, id)
	return sessions, translateError(err)
}

// WaitReplay blocks until the session reaches a terminal state or ctx
// is done.
func (ck *Cockpit) WaitReplay(ctx context.Context, id string) error {
	return translateError(ck.controller.Wait(ctx, id))
}

// Reconcile terminates environments left behind by a previous process
// crash. Call it once on startup before launching new sessions.
func (ck *Cockpit) Reconcile(ctx context.Context) error {
	return translateError(ck.controller.Reconcile(ctx))
}

// Close releases the catalog database. In-flight replay sessions keep
// running; cancel or wait for them first if a clean shutdown is
// required.
func (ck *Cockpit) Close() error {
	if ck == nil {
		return nil
	}
	return ck.store.Close()
}
