// Package rosbag streams the structural records of ROS bag v2.0
// container files without decoding message payloads.
//
// A bag is an append-only sequence of length-prefixed records:
// connection definitions, compressed chunks of message data, and a
// trailing index (index data and chunk info records). The Reader walks
// this sequence once, producing per-connection message counts, global
// time bounds and chunk summaries.
//
// Fault tolerance is part of the contract:
//
//   - wrong magic or unknown chunk compression: ErrUnsupportedFormat
//   - file cut off mid-record (interrupted recording): everything
//     parsed so far is returned with Info.Truncated set; never an error
//   - internally inconsistent records (length fields pointing past
//     bounds, unknown record kinds): *ParseError
//
// Message payload bytes are only ever read during Messages iteration,
// and only for the selected topics; chunk info records feed a Roaring
// bitmap index so unrelated chunks are skipped without decompression.
package rosbag
