// Package ingest walks a directory tree for bag files and commits
// their metadata through the store with a bounded worker pool.
//
// Ingestion is idempotent: files are fingerprinted (size + mtime)
// before any parsing, and unchanged files are skipped without being
// reopened. Per-file failures are isolated; one corrupt bag never
// aborts the run.
package ingest

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/baggo/catalog"
	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/store"
)

// Archiver mirrors a successfully ingested bag into secondary storage
// (typically an object store). Archival failures are reported as file
// failures but do not undo the committed metadata.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// Options configure an Orchestrator.
type Options struct {
	// Concurrency is the worker pool size. Defaults to GOMAXPROCS.
	Concurrency int

	// IOLimitBytesPerSec throttles aggregate parse throughput across
	// all workers. 0 disables throttling.
	IOLimitBytesPerSec int

	// Classifier labels each bag; nil uses catalog.DefaultClassifier.
	Classifier catalog.Classifier

	// Archiver, if set, receives every newly ingested file.
	Archiver Archiver

	Logger *slog.Logger
}

// Failure records one file that could not be ingested.
type Failure struct {
	Path   string
	Reason string
}

// Summary is the result of one ingestion run.
type Summary struct {
	Ingested           int
	Unchanged          int
	SkippedUnsupported int
	Failed             int
	Failures           []Failure
}

// Orchestrator runs ingestion passes over directory trees.
type Orchestrator struct {
	store   *store.Store
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates an Orchestrator committing through st.
func New(st *store.Store, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Classifier == nil {
		opts.Classifier = catalog.DefaultClassifier
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	o := &Orchestrator{store: st, opts: opts, logger: logger}
	if opts.IOLimitBytesPerSec > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.IOLimitBytesPerSec), opts.IOLimitBytesPerSec)
	}
	return o
}

type candidateKind int

const (
	kindBagFile candidateKind = iota
	kindSidecarDir
)

type candidate struct {
	kind candidateKind
	path string
}

// Ingest walks root, processes every candidate through the worker
// pool, and returns the per-run summary. Cancelling ctx stops the run
// gracefully: in-flight files finish, queued files are abandoned, and
// the partial summary is returned alongside ctx.Err().
func (o *Orchestrator) Ingest(ctx context.Context, root string) (*Summary, error) {
	candidates, err := o.discover(root)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for _, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil // stop-after-current-file: abandon queued work
			}
			outcome, reason := o.process(gctx, cand)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeIngested:
				summary.Ingested++
			case outcomeUnchanged:
				summary.Unchanged++
			case outcomeUnsupported:
				summary.SkippedUnsupported++
			case outcomeFailed:
				summary.Failed++
				summary.Failures = append(summary.Failures, Failure{Path: cand.path, Reason: reason})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Path < summary.Failures[j].Path
	})
	return summary, ctx.Err()
}

// discover enumerates candidate bags: *.bag files, files carrying the
// bag magic regardless of extension, and rosbag2 directories holding a
// metadata sidecar.
func (o *Orchestrator) discover(root string) ([]candidate, error) {
	var out []candidate
	seenDirs := map[string]struct{}{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case d.Name() == rosbag.SidecarName:
			dir := filepath.Dir(path)
			if _, ok := seenDirs[dir]; !ok {
				seenDirs[dir] = struct{}{}
				out = append(out, candidate{kind: kindSidecarDir, path: dir})
			}
		case strings.EqualFold(filepath.Ext(path), ".bag"):
			out = append(out, candidate{kind: kindBagFile, path: path})
		default:
			if sniffMagic(path) {
				out = append(out, candidate{kind: kindBagFile, path: path})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sniffMagic(path string) bool {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the walked tree
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(rosbag.Magic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == rosbag.Magic
}

type outcome int

const (
	outcomeIngested outcome = iota
	outcomeUnchanged
	outcomeUnsupported
	outcomeFailed
)

func (o *Orchestrator) process(ctx context.Context, cand candidate) (outcome, string) {
	rec, out, reason := o.buildRecord(ctx, cand)
	if out != outcomeIngested {
		return out, reason
	}

	stored, err := o.store.Upsert(ctx, *rec)
	if err != nil {
		o.logger.Error("ingest commit failed", "path", cand.path, "error", err)
		return outcomeFailed, err.Error()
	}
	o.logger.Info("ingested bag",
		"path", cand.path,
		"id", stored.ID,
		"messages", stored.MessageCount,
		"topics", stored.TopicCount,
		"category", stored.Category,
	)

	if o.opts.Archiver != nil && cand.kind == kindBagFile {
		if err := o.opts.Archiver.Archive(ctx, cand.path); err != nil {
			o.logger.Error("archive failed", "path", cand.path, "error", err)
			return outcomeFailed, "archive: " + err.Error()
		}
	}
	return outcomeIngested, ""
}

// buildRecord fingerprints the candidate, short-circuits unchanged
// files, and otherwise parses and aggregates it.
func (o *Orchestrator) buildRecord(ctx context.Context, cand candidate) (*model.BagRecord, outcome, string) {
	statPath := cand.path
	if cand.kind == kindSidecarDir {
		statPath = filepath.Join(cand.path, rosbag.SidecarName)
	}
	fi, err := os.Stat(statPath)
	if err != nil {
		return nil, outcomeFailed, err.Error()
	}

	existing, err := o.store.GetByPath(ctx, cand.path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, outcomeFailed, err.Error()
	}
	if existing != nil && existing.Fingerprint == catalog.Fingerprint(fi) {
		return nil, outcomeUnchanged, ""
	}

	var info *rosbag.Info
	switch cand.kind {
	case kindSidecarDir:
		info, err = rosbag.ReadSidecar(cand.path)
	default:
		info, err = o.scanFile(ctx, cand.path, fi.Size())
	}
	if err != nil {
		if errors.Is(err, rosbag.ErrUnsupportedFormat) {
			o.logger.Warn("unsupported bag skipped", "path", cand.path, "error", err)
			return nil, outcomeUnsupported, ""
		}
		o.logger.Error("bag parse failed", "path", cand.path, "error", err)
		return nil, outcomeFailed, err.Error()
	}
	if info.Truncated {
		o.logger.Warn("bag truncated, partial metadata committed", "path", cand.path)
	}

	rec := catalog.Aggregate(cand.path, fi, info, o.opts.Classifier)
	return &rec, outcomeIngested, ""
}

func (o *Orchestrator) scanFile(ctx context.Context, path string, size int64) (*rosbag.Info, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the walked tree
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if o.limiter != nil {
		r = &throttledReader{ctx: ctx, r: f, limiter: o.limiter}
	}
	return rosbag.NewReader(r, size).Scan(ctx)
}

// throttledReader paces reads against the shared ingest rate limiter.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
