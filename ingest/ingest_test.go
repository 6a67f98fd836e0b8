package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/store"
	"github.com/hupe1980/baggo/testutil"
)

var base = time.Unix(1700000000, 0).UTC()

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeValidBag(t *testing.T, path string, msgs int) {
	t.Helper()
	b := testutil.NewBag().Connection(0, "/imu", "sensor_msgs/Imu")
	chunk := make([]testutil.Msg, msgs)
	for i := range chunk {
		chunk[i] = testutil.Msg{Conn: 0, Time: base.Add(time.Duration(i) * time.Second), Data: []byte("m")}
	}
	b.Chunk(chunk...)
	require.NoError(t, b.WriteFile(path))
}

func TestIngest_Directory(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "skidpad"), 0o750))
	writeValidBag(t, filepath.Join(root, "skidpad", "run_01.bag"), 5)
	writeValidBag(t, filepath.Join(root, "skidpad", "run_02.bag"), 3)
	writeValidBag(t, filepath.Join(root, "trackdrive_01.bag"), 7)

	// Non-bag noise is ignored silently.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o600))

	o := New(st, func(opts *Options) { opts.Concurrency = 2 })
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Ingested)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.SkippedUnsupported)

	recs, err := st.List(context.Background(), store.Query{SortBy: "file_path"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, model.CategorySkidpad, recs[0].Category)
	assert.Equal(t, uint64(5), recs[0].MessageCount)
	assert.Equal(t, model.CategoryTrackdrive, recs[2].Category)
}

func TestIngest_ReRunIsNoop(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	writeValidBag(t, filepath.Join(root, "a.bag"), 2)

	o := New(st)
	ctx := context.Background()

	first, err := o.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Ingested)

	second, err := o.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Ingested)
	assert.Equal(t, 1, second.Unchanged)
}

func TestIngest_ChangedFileIsReIngested(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	path := filepath.Join(root, "a.bag")
	writeValidBag(t, path, 2)

	o := New(st)
	ctx := context.Background()

	_, err := o.Ingest(ctx, root)
	require.NoError(t, err)

	// Rewrite with more messages and a different mtime.
	writeValidBag(t, path, 4)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	summary, err := o.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)

	rec, err := st.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.MessageCount)
}

func TestIngest_FailureIsolation(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	writeValidBag(t, filepath.Join(root, "good.bag"), 2)
	// Valid magic but garbage body: parse failure, not unsupported.
	require.NoError(t, os.WriteFile(filepath.Join(root, "corrupt.bag"),
		append([]byte(rosbag.Magic), 0xff, 0xff, 0xff, 0x7f, 0x00), 0o600))
	// Wrong magic with a .bag extension: unsupported.
	require.NoError(t, os.WriteFile(filepath.Join(root, "alien.bag"),
		[]byte("MCAP0\n whatever"), 0o600))

	o := New(st)
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ingested)
	assert.Equal(t, 1, summary.SkippedUnsupported)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, filepath.Join(root, "corrupt.bag"), summary.Failures[0].Path)
	assert.NotEmpty(t, summary.Failures[0].Reason)

	// The good file landed regardless.
	_, err = st.GetByPath(context.Background(), filepath.Join(root, "good.bag"))
	require.NoError(t, err)
}

func TestIngest_TruncatedBagIsCommitted(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	raw := testutil.NewBag().
		NoIndex().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Chunk(
			testutil.Msg{Conn: 0, Time: base, Data: []byte("a")},
			testutil.Msg{Conn: 0, Time: base.Add(time.Second), Data: []byte("b")},
		).
		Chunk(testutil.Msg{Conn: 0, Time: base.Add(2 * time.Second), Data: []byte("c")}).
		Build()
	path := filepath.Join(root, "cut.bag")
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-8], 0o600))

	o := New(st)
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)

	rec, err := st.GetByPath(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, rec.Truncated)
	assert.Equal(t, uint64(2), rec.MessageCount)
}

func TestIngest_SidecarDirectory(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	dir := filepath.Join(root, "rosbag2_run")
	require.NoError(t, os.MkdirAll(dir, 0o750))

	sidecar := `rosbag2_bagfile_information:
  duration:
    nanoseconds: 10000000000
  starting_time:
    nanoseconds_since_epoch: 1700000000000000000
  message_count: 150
  topics_with_message_count:
    - topic_metadata:
        name: /imu
        type: sensor_msgs/msg/Imu
      message_count: 120
    - topic_metadata:
        name: /camera
        type: sensor_msgs/msg/Image
      message_count: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, rosbag.SidecarName), []byte(sidecar), 0o600))

	o := New(st)
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)

	rec, err := st.GetByPath(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), rec.MessageCount)
	assert.Equal(t, 2, rec.TopicCount)
	assert.InDelta(t, 10.0, rec.Duration, 0.001)
}

func TestIngest_MagicSniffWithoutExtension(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	b := testutil.NewBag().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Chunk(testutil.Msg{Conn: 0, Time: base, Data: []byte("a")})
	require.NoError(t, b.WriteFile(filepath.Join(root, "recording.data")))

	o := New(st)
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)
}

func TestIngest_BoundedConcurrency(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	for i := 0; i < 8; i++ {
		writeValidBag(t, filepath.Join(root, "run_"+string(rune('a'+i))+".bag"), 2)
	}

	o := New(st, func(opts *Options) { opts.Concurrency = 3 })
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Ingested)

	recs, err := st.List(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 8)
}

type recordingArchiver struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return a.err
}

func TestIngest_Archiver(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	writeValidBag(t, filepath.Join(root, "a.bag"), 2)

	arch := &recordingArchiver{}
	o := New(st, func(opts *Options) { opts.Archiver = arch })

	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)
	assert.Equal(t, []string{filepath.Join(root, "a.bag")}, arch.paths)

	// Archiver errors count as file failures.
	writeValidBag(t, filepath.Join(root, "b.bag"), 2)
	arch.err = errors.New("bucket gone")
	summary, err = o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestIngest_IOThrottle(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	writeValidBag(t, filepath.Join(root, "a.bag"), 3)

	// A generous limit must not change outcomes.
	o := New(st, func(opts *Options) { opts.IOLimitBytesPerSec = 10 << 20 })
	summary, err := o.Ingest(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)
}
