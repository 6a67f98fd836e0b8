package model

import (
	"fmt"
	"time"
)

// BagID is the stable surrogate key of an ingested bag file.
type BagID int64

// String returns a string representation of the BagID.
func (id BagID) String() string {
	return fmt.Sprintf("bag(%d)", int64(id))
}

// TopicCount is the per-topic message tally of a bag.
type TopicCount struct {
	Topic        string
	MessageType  string
	MessageCount uint64
}

// BagRecord is the persisted metadata of one ingested bag file.
//
// Invariants (enforced by the aggregator, verified by store tests):
//   - MessageCount == sum of TopicCounts message counts
//   - TopicCount == len(TopicCounts)
//   - Duration >= 0; a degenerate bag (zero messages) has Duration 0
type BagRecord struct {
	ID           BagID
	FilePath     string
	Fingerprint  string
	SizeBytes    int64
	StartTime    time.Time
	EndTime      time.Time
	Duration     float64 // seconds
	MessageCount uint64
	TopicCount   int
	TopicCounts  []TopicCount
	Category     string
	Truncated    bool
	CreatedAt    time.Time
}

// Topics returns the topic names of the bag.
func (r *BagRecord) Topics() []string {
	topics := make([]string, 0, len(r.TopicCounts))
	for _, tc := range r.TopicCounts {
		topics = append(topics, tc.Topic)
	}
	return topics
}

// HasTopic reports whether the bag contains the named topic.
func (r *BagRecord) HasTopic(topic string) bool {
	for _, tc := range r.TopicCounts {
		if tc.Topic == topic {
			return true
		}
	}
	return false
}

// Category labels assigned by the default path classifier.
const (
	CategorySkidpad      = "skidpad"
	CategoryTrackdrive   = "trackdrive"
	CategoryAutocross    = "autox"
	CategoryAcceleration = "acceleration"
	CategoryUndefined    = "undefined"
)

// Categories lists all known category labels, CategoryUndefined last.
func Categories() []string {
	return []string{
		CategorySkidpad,
		CategoryTrackdrive,
		CategoryAutocross,
		CategoryAcceleration,
		CategoryUndefined,
	}
}
