package rosbag

import (
	"compress/bzip2"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Chunk compression schemes of the v2.0 format.
const (
	compressionNone = "none"
	compressionBZ2  = "bz2"
	compressionLZ4  = "lz4"
)

// chunkReader wraps the compressed data section of a chunk record with
// a transparent decompressor. The returned reader yields at most size
// uncompressed bytes (the chunk's declared uncompressed size).
func chunkReader(data io.Reader, compression string, size uint32) (io.Reader, error) {
	var r io.Reader
	switch compression {
	case compressionNone, "":
		r = data
	case compressionBZ2:
		r = bzip2.NewReader(data)
	case compressionLZ4:
		r = lz4.NewReader(data)
	default:
		return nil, unsupportedf("unknown chunk compression %q", compression)
	}
	return io.LimitReader(r, int64(size)), nil
}
