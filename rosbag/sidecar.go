package rosbag

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SidecarName is the metadata sidecar file written next to rosbag2
// recordings (db3/mcap). Directories carrying one are ingested from the
// sidecar alone, without touching the recording itself.
const SidecarName = "metadata.yaml"

type sidecarDoc struct {
	Info sidecarInfo `yaml:"rosbag2_bagfile_information"`
}

type sidecarInfo struct {
	Duration struct {
		Nanoseconds int64 `yaml:"nanoseconds"`
	} `yaml:"duration"`
	StartingTime struct {
		NanosecondsSinceEpoch int64 `yaml:"nanoseconds_since_epoch"`
	} `yaml:"starting_time"`
	MessageCount uint64 `yaml:"message_count"`
	Topics       []struct {
		Metadata struct {
			Name string `yaml:"name"`
			Type string `yaml:"type"`
		} `yaml:"topic_metadata"`
		MessageCount uint64 `yaml:"message_count"`
	} `yaml:"topics_with_message_count"`
}

// ReadSidecar parses a rosbag2 metadata.yaml sidecar in dir into the
// same structural summary a binary scan produces. Chunk summaries are
// not available from sidecars, so the returned Info carries none.
func ReadSidecar(dir string) (*Info, error) {
	raw, err := os.ReadFile(filepath.Join(dir, SidecarName)) //nolint:gosec // G304: dir is the caller's bag directory
	if err != nil {
		return nil, err
	}

	var doc sidecarDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, unsupportedf("invalid metadata sidecar: %v", err)
	}
	if doc.Info.StartingTime.NanosecondsSinceEpoch == 0 && len(doc.Info.Topics) == 0 {
		return nil, unsupportedf("metadata sidecar missing rosbag2_bagfile_information")
	}

	start := time.Unix(0, doc.Info.StartingTime.NanosecondsSinceEpoch).UTC()
	dur := time.Duration(doc.Info.Duration.Nanoseconds)
	if dur < 0 {
		return nil, unsupportedf("metadata sidecar reports negative duration")
	}

	info := &Info{
		StartTime: start,
		EndTime:   start.Add(dur),
	}

	var total uint64
	for i, t := range doc.Info.Topics {
		info.Connections = append(info.Connections, Connection{
			ID:           uint32(i), //nolint:gosec // sidecar topics are few
			Topic:        t.Metadata.Name,
			MessageType:  t.Metadata.Type,
			MessageCount: t.MessageCount,
			FirstTime:    start,
			LastTime:     info.EndTime,
		})
		total += t.MessageCount
	}
	if doc.Info.MessageCount != 0 && total != doc.Info.MessageCount {
		return nil, fmt.Errorf("metadata sidecar inconsistent: topic counts sum to %d, header says %d", total, doc.Info.MessageCount)
	}
	return info, nil
}
