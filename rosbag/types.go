package rosbag

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Connection is the per-topic header info recorded once per topic.
type Connection struct {
	ID          uint32
	Topic       string
	MessageType string
	MD5Sum      string

	// Counted during the structural scan.
	MessageCount uint64
	FirstTime    time.Time
	LastTime     time.Time
}

// ChunkInfo summarizes one chunk of the bag body: its byte position,
// time bounds and per-connection message counts.
type ChunkInfo struct {
	Pos       int64
	StartTime time.Time
	EndTime   time.Time
	Counts    map[uint32]uint32 // connection ID -> message count
}

// Info is the structural summary of a bag produced by Reader.Scan.
// No message payloads are retained.
type Info struct {
	Size       int64
	StartTime  time.Time
	EndTime    time.Time
	ChunkCount int
	// Truncated is set when the file ends mid-record; everything
	// parsed before the cut is still reported.
	Truncated   bool
	Connections []Connection
	ChunkInfos  []ChunkInfo

	// chunkIndex maps connection ID -> set of chunk ordinals holding
	// messages of that connection. Built from ChunkInfo records when
	// present; nil for unindexed bags.
	chunkIndex map[uint32]*roaring.Bitmap
}

// Duration returns the recording length. Degenerate bags (no messages)
// report 0.
func (i *Info) Duration() time.Duration {
	if i.StartTime.IsZero() || i.EndTime.IsZero() || i.EndTime.Before(i.StartTime) {
		return 0
	}
	return i.EndTime.Sub(i.StartTime)
}

// MessageCount returns the total number of messages across all connections.
func (i *Info) MessageCount() uint64 {
	var n uint64
	for _, c := range i.Connections {
		n += c.MessageCount
	}
	return n
}

// Topics returns the topic names present in the bag.
func (i *Info) Topics() []string {
	topics := make([]string, 0, len(i.Connections))
	for _, c := range i.Connections {
		topics = append(topics, c.Topic)
	}
	return topics
}

// Connection returns the connection record for a topic, if any.
func (i *Info) Connection(topic string) (Connection, bool) {
	for _, c := range i.Connections {
		if c.Topic == topic {
			return c, true
		}
	}
	return Connection{}, false
}

// chunksFor returns the set of chunk ordinals that hold messages for
// the given connection IDs, or nil when the bag carries no chunk index
// (callers must then visit every chunk).
func (i *Info) chunksFor(connIDs map[uint32]struct{}) *roaring.Bitmap {
	if len(i.chunkIndex) == 0 {
		return nil
	}
	out := roaring.New()
	for id := range connIDs {
		if bm, ok := i.chunkIndex[id]; ok {
			out.Or(bm)
		}
	}
	return out
}

// Message is one recorded message attributed to a connection. Data is
// the opaque serialized payload; it is never decoded by this package.
type Message struct {
	ConnID uint32
	Topic  string
	Type   string
	Time   time.Time
	Data   []byte
}
