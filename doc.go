// Package baggo provides an embedded cockpit for ROS bag recordings.
//
// Baggo ingests directory trees of bag files into a queryable SQLite
// catalog and replays recordings into isolated container environments
// for open-loop testing.
//
// # Quick Start
//
// Open a cockpit, ingest recordings and query the catalog:
//
//	ctx := context.Background()
//	ck, _ := baggo.New("./catalog.db")
//	defer ck.Close()
//
//	summary, _ := ck.Ingest(ctx, "/data/recordings")
//	bags, _ := ck.Bags(ctx, store.Query{Category: "skidpad", SortBy: "start_time"})
//
// # Ingestion
//
// Ingest walks the tree with a bounded worker pool and is idempotent:
//
//	// Unchanged files (same size + mtime fingerprint) are skipped.
//	// Truncated recordings are committed with partial metadata.
//	// Unreadable files are reported per-file, never abort the run.
//	summary, err := ck.Ingest(ctx, root)
//	for _, f := range summary.Failures {
//	    log.Printf("%s: %s", f.Path, f.Reason)
//	}
//
// Discovery accepts classic .bag files, extension-less files carrying
// the bag magic, and rosbag2 directories with a metadata.yaml sidecar.
//
// # Replay
//
// Each replay session launches one container, streams the selected
// topics with their original inter-message timing scaled by a speed
// factor, and tears the container down on every exit path:
//
//	sess, _ := ck.StartReplay(ctx, bagID, []string{"/imu"}, 2.0, 5*time.Minute)
//	_ = ck.WaitReplay(ctx, sess.ID)
//	sess, _ = ck.ReplaySession(ctx, sess.ID) // status, error, captured output
//
// Call Reconcile once on startup to clean up environments orphaned by
// a previous crash.
//
// # Archival
//
// Newly ingested bags can be mirrored into secondary storage:
//
//	archiver := blobstore.NewArchiver(localOrS3OrMinio, "/data/recordings")
//	ck, _ := baggo.New("./catalog.db", baggo.WithArchiver(archiver))
//
// # Observability
//
// Structured logging and metrics are off by default and opt in:
//
//	ck, _ := baggo.New("./catalog.db",
//	    baggo.WithLogger(baggo.NewJSONLogger(slog.LevelInfo)),
//	    baggo.WithMetricsCollector(&baggo.BasicMetricsCollector{}),
//	)
package baggo
