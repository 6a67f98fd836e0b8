package rosbag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/baggo/rosbag"
	"github.com/hupe1980/baggo/testutil"
)

func TestSeries_BucketSumsMatchTopicCounts(t *testing.T) {
	raw := testutil.NewBag().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Connection(1, "/camera", "sensor_msgs/Image").
		Chunk(
			testutil.Msg{Conn: 0, Time: base, Data: []byte("a")},
			testutil.Msg{Conn: 0, Time: base.Add(time.Second), Data: []byte("b")},
			testutil.Msg{Conn: 1, Time: base.Add(time.Second), Data: []byte("c")},
		).
		Chunk(
			testutil.Msg{Conn: 0, Time: base.Add(8 * time.Second), Data: []byte("d")},
			testutil.Msg{Conn: 1, Time: base.Add(10 * time.Second), Data: []byte("e")},
		).
		Build()

	info := scanBag(t, raw)
	series := rosbag.Series(info, 5)

	require.Len(t, series, 2)
	// Sorted by topic.
	assert.Equal(t, "/camera", series[0].Topic)
	assert.Equal(t, "/imu", series[1].Topic)

	for _, s := range series {
		require.Len(t, s.Points, 5)
		conn, ok := info.Connection(s.Topic)
		require.True(t, ok)
		var sum uint64
		for _, p := range s.Points {
			sum += p.Count
		}
		assert.Equal(t, conn.MessageCount, sum, "topic %s", s.Topic)
	}

	// The two chunks land in different buckets.
	imu := series[1]
	assert.Equal(t, uint64(2), imu.Points[0].Count)
	assert.Equal(t, uint64(1), imu.Points[4].Count)
}

func TestSeries_NoChunkSummaries(t *testing.T) {
	raw := testutil.NewBag().
		NoIndex().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Chunk(
			testutil.Msg{Conn: 0, Time: base, Data: []byte("a")},
			testutil.Msg{Conn: 0, Time: base.Add(time.Second), Data: []byte("b")},
		).
		Build()

	info := scanBag(t, raw)
	series := rosbag.Series(info, 10)

	// Without chunk summaries everything collapses to one point.
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	assert.Equal(t, uint64(2), series[0].Points[0].Count)
	assert.Equal(t, base, series[0].Points[0].Time)
}

func TestSeries_DegenerateBag(t *testing.T) {
	info := scanBag(t, testutil.NewBag().Build())
	assert.Empty(t, rosbag.Series(info, 4))
}

func TestSeries_NonPositiveBuckets(t *testing.T) {
	raw := testutil.NewBag().
		Connection(0, "/imu", "sensor_msgs/Imu").
		Chunk(
			testutil.Msg{Conn: 0, Time: base, Data: []byte("a")},
			testutil.Msg{Conn: 0, Time: base.Add(time.Second), Data: []byte("b")},
		).
		Build()

	f, err := rosbag.Open(writeBag(t, raw))
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Scan(context.Background())
	require.NoError(t, err)

	series := rosbag.Series(info, 0)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	assert.Equal(t, uint64(2), series[0].Points[0].Count)
}
