package rosbag

import (
	"sort"
	"time"
)

// SeriesPoint is one bucket of a topic message-rate series.
type SeriesPoint struct {
	Time  time.Time
	Count uint64
}

// TopicSeries is the per-topic message distribution over the recording,
// derived from chunk summaries without touching payloads. It is the
// numeric input for rate charts; rendering is the caller's concern.
type TopicSeries struct {
	Topic  string
	Points []SeriesPoint
}

// Series buckets each topic's message counts over the bag's time span.
// Counts are attributed by chunk midpoint, so per-topic point sums
// always equal the topic's total message count. Bags without chunk
// summaries (e.g. truncated before the index) collapse to a single
// point per topic.
func Series(info *Info, buckets int) []TopicSeries {
	if buckets <= 0 {
		buckets = 1
	}

	topicByConn := make(map[uint32]string, len(info.Connections))
	for _, c := range info.Connections {
		topicByConn[c.ID] = c.Topic
	}

	if len(info.ChunkInfos) == 0 || info.Duration() <= 0 {
		out := make([]TopicSeries, 0, len(info.Connections))
		for _, c := range info.Connections {
			out = append(out, TopicSeries{
				Topic:  c.Topic,
				Points: []SeriesPoint{{Time: c.FirstTime, Count: c.MessageCount}},
			})
		}
		sortSeries(out)
		return out
	}

	span := info.EndTime.Sub(info.StartTime)
	width := span / time.Duration(buckets)
	if width <= 0 {
		width = time.Nanosecond
	}

	acc := make(map[string][]uint64, len(info.Connections))
	for _, c := range info.Connections {
		acc[c.Topic] = make([]uint64, buckets)
	}

	for _, ci := range info.ChunkInfos {
		mid := ci.StartTime.Add(ci.EndTime.Sub(ci.StartTime) / 2)
		idx := int(mid.Sub(info.StartTime) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		for connID, n := range ci.Counts {
			topic, ok := topicByConn[connID]
			if !ok {
				continue
			}
			acc[topic][idx] += uint64(n)
		}
	}

	out := make([]TopicSeries, 0, len(acc))
	for topic, counts := range acc {
		points := make([]SeriesPoint, buckets)
		for i, n := range counts {
			points[i] = SeriesPoint{
				Time:  info.StartTime.Add(time.Duration(i) * width),
				Count: n,
			}
		}
		out = append(out, TopicSeries{Topic: topic, Points: points})
	}
	sortSeries(out)
	return out
}

func sortSeries(s []TopicSeries) {
	sort.Slice(s, func(i, j int) bool { return s[i].Topic < s[j].Topic })
}
