// Package catalog folds a bag's structural scan into a single metadata
// record and classifies it into a track category.
package catalog

import (
	"fmt"
	"io/fs"
	"sort"

	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
)

// Aggregate folds one structural scan into an unsaved BagRecord. It is
// a pure function of its inputs: re-running it over the same scan
// always produces the same record, which is what makes re-ingestion
// idempotent. Degenerate bags (no connections, no messages) are valid
// output with zero duration, not errors.
func Aggregate(path string, fi fs.FileInfo, info *rosbag.Info, classifier Classifier) model.BagRecord {
	rec := model.BagRecord{
		FilePath:    path,
		Fingerprint: Fingerprint(fi),
		SizeBytes:   fi.Size(),
		StartTime:   info.StartTime,
		EndTime:     info.EndTime,
		Duration:    info.Duration().Seconds(),
		Truncated:   info.Truncated,
	}

	counts := make([]model.TopicCount, 0, len(info.Connections))
	for _, c := range info.Connections {
		counts = append(counts, model.TopicCount{
			Topic:        c.Topic,
			MessageType:  c.MessageType,
			MessageCount: c.MessageCount,
		})
		rec.MessageCount += c.MessageCount
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Topic < counts[j].Topic })
	rec.TopicCounts = counts
	rec.TopicCount = len(counts)

	if classifier == nil {
		classifier = DefaultClassifier
	}
	rec.Category = classifier.Classify(path, info)
	if rec.Category == "" {
		rec.Category = model.CategoryUndefined
	}
	return rec
}

// Fingerprint derives the cheap content identity used to decide
// whether a file needs re-parsing: size plus modification time. It
// never reads file content.
func Fingerprint(fi fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", fi.Size(), fi.ModTime().UnixNano())
}
