package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/testutil"
)

func scanFile(t *testing.T, path string, b *testutil.BagBuilder) (os.FileInfo, *rosbag.Info) {
	t.Helper()
	require.NoError(t, b.WriteFile(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)

	f, err := rosbag.Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Scan(context.Background())
	require.NoError(t, err)
	return fi, info
}

func TestAggregate(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	path := filepath.Join(t.TempDir(), "skidpad_01.bag")
	b := testutil.NewBag().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Connection(1, "/camera", "sensor_msgs/Image")

	// 120 imu messages and 30 camera messages over 10 seconds.
	var msgs []testutil.Msg
	for i := 0; i < 120; i++ {
		msgs = append(msgs, testutil.Msg{Conn: 0, Time: base.Add(time.Duration(i) * 10 * time.Second / 120), Data: []byte("i")})
	}
	for i := 0; i < 29; i++ {
		msgs = append(msgs, testutil.Msg{Conn: 1, Time: base.Add(time.Duration(i) * time.Second / 3), Data: []byte("c")})
	}
	msgs = append(msgs, testutil.Msg{Conn: 1, Time: base.Add(10 * time.Second), Data: []byte("c")})
	b.Chunk(msgs...)

	fi, info := scanFile(t, path, b)
	rec := Aggregate(path, fi, info, nil)

	assert.Equal(t, path, rec.FilePath)
	assert.Equal(t, uint64(150), rec.MessageCount)
	assert.Equal(t, 2, rec.TopicCount)
	assert.InDelta(t, 10.0, rec.Duration, 0.001)
	assert.Equal(t, model.CategorySkidpad, rec.Category)
	assert.Equal(t, fi.Size(), rec.SizeBytes)
	assert.False(t, rec.Truncated)

	// Topic counts are sorted by topic name.
	require.Len(t, rec.TopicCounts, 2)
	assert.Equal(t, "/camera", rec.TopicCounts[0].Topic)
	assert.Equal(t, uint64(30), rec.TopicCounts[0].MessageCount)
	assert.Equal(t, "/imu", rec.TopicCounts[1].Topic)
	assert.Equal(t, uint64(120), rec.TopicCounts[1].MessageCount)

	// Invariants.
	var sum uint64
	for _, tc := range rec.TopicCounts {
		sum += tc.MessageCount
	}
	assert.Equal(t, rec.MessageCount, sum)
	assert.Equal(t, rec.TopicCount, len(rec.TopicCounts))
}

func TestAggregate_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.bag")
	fi, info := scanFile(t, path, testutil.NewBag().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Chunk(testutil.Msg{Conn: 0, Time: time.Unix(1700000000, 0).UTC(), Data: []byte("x")}))

	first := Aggregate(path, fi, info, nil)
	second := Aggregate(path, fi, info, nil)
	assert.Equal(t, first, second)
}

func TestAggregate_DegenerateBag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bag")
	fi, info := scanFile(t, path, testutil.NewBag())

	rec := Aggregate(path, fi, info, nil)

	assert.Equal(t, uint64(0), rec.MessageCount)
	assert.Equal(t, 0, rec.TopicCount)
	assert.Equal(t, 0.0, rec.Duration)
	assert.Equal(t, model.CategoryUndefined, rec.Category)
}

func TestAggregate_CustomClassifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.bag")
	fi, info := scanFile(t, path, testutil.NewBag())

	rec := Aggregate(path, fi, info, ClassifierFunc(func(string, *rosbag.Info) string {
		return "endurance"
	}))
	assert.Equal(t, "endurance", rec.Category)

	// Empty classifier output falls back to undefined.
	rec = Aggregate(path, fi, info, ClassifierFunc(func(string, *rosbag.Info) string {
		return ""
	}))
	assert.Equal(t, model.CategoryUndefined, rec.Category)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bag")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	fp := Fingerprint(fi)

	// Stable for an unchanged file.
	fi2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fp, Fingerprint(fi2))

	// Changes when content size changes.
	require.NoError(t, os.WriteFile(path, []byte("1234567890"), 0o600))
	fi3, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, fp, Fingerprint(fi3))
}

func TestPathClassifier(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/data/skidpad_01.bag", model.CategorySkidpad},
		{"/data/trackdrive/run_03.bag", model.CategoryTrackdrive},
		{"/data/2024-08-01/AutoX-warmup.bag", model.CategoryAutocross},
		{"/data/acceleration.bag", model.CategoryAcceleration},
		{"/data/SKIDPAD/run.bag", model.CategorySkidpad},
		{"/data/unlabeled/run_07.bag", ""},
		{"/data/skidpadding/run.bag", ""}, // no substring matching
	}
	for _, tt := range tests {
		got := DefaultClassifier.Classify(tt.path, nil)
		assert.Equal(t, tt.want, got, "path %s", tt.path)
	}
}

func TestPathClassifier_CustomLabels(t *testing.T) {
	c := PathClassifier{Labels: []string{"endurance"}}
	assert.Equal(t, "endurance", c.Classify("/data/endurance/run.bag", nil))
	assert.Equal(t, "", c.Classify("/data/skidpad/run.bag", nil))
}
