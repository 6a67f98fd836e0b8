package rosbag_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/baggo/rosbag"
)

const sidecarYAML = `rosbag2_bagfile_information:
  version: 5
  storage_identifier: sqlite3
  duration:
    nanoseconds: 10000000000
  starting_time:
    nanoseconds_since_epoch: 1700000000000000000
  message_count: 150
  topics_with_message_count:
    - topic_metadata:
        name: /imu
        type: sensor_msgs/msg/Imu
        serialization_format: cdr
      message_count: 120
    - topic_metadata:
        name: /camera
        type: sensor_msgs/msg/Image
        serialization_format: cdr
      message_count: 30
`

func writeSidecar(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, rosbag.SidecarName), []byte(content), 0o600))
	return dir
}

func TestReadSidecar(t *testing.T) {
	info, err := rosbag.ReadSidecar(writeSidecar(t, sidecarYAML))
	require.NoError(t, err)

	assert.Equal(t, base, info.StartTime)
	assert.Equal(t, 10*time.Second, info.Duration())
	assert.Equal(t, uint64(150), info.MessageCount())
	assert.ElementsMatch(t, []string{"/imu", "/camera"}, info.Topics())

	imu, ok := info.Connection("/imu")
	require.True(t, ok)
	assert.Equal(t, uint64(120), imu.MessageCount)
	assert.Equal(t, "sensor_msgs/msg/Imu", imu.MessageType)
}

func TestReadSidecar_InconsistentCounts(t *testing.T) {
	doc := `rosbag2_bagfile_information:
  starting_time:
    nanoseconds_since_epoch: 1700000000000000000
  message_count: 999
  topics_with_message_count:
    - topic_metadata:
        name: /imu
        type: sensor_msgs/msg/Imu
      message_count: 10
`
	_, err := rosbag.ReadSidecar(writeSidecar(t, doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}

func TestReadSidecar_NotASidecar(t *testing.T) {
	_, err := rosbag.ReadSidecar(writeSidecar(t, "just: random\nyaml: content\n"))
	require.ErrorIs(t, err, rosbag.ErrUnsupportedFormat)
}

func TestReadSidecar_Missing(t *testing.T) {
	_, err := rosbag.ReadSidecar(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}
