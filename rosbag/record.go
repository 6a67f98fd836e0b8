package rosbag

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Magic is the version header every supported bag file starts with.
const Magic = "#ROSBAG V2.0\n"

// Record kinds form a closed, versioned set. Records carrying an op
// outside this set in a mandatory position are rejected as structurally
// invalid rather than silently ignored.
type opcode byte

const (
	opMessageData opcode = 0x02
	opBagHeader   opcode = 0x03
	opIndexData   opcode = 0x04
	opChunk       opcode = 0x05
	opChunkInfo   opcode = 0x06
	opConnection  opcode = 0x07
)

func (o opcode) String() string {
	switch o {
	case opMessageData:
		return "message-data"
	case opBagHeader:
		return "bag-header"
	case opIndexData:
		return "index-data"
	case opChunk:
		return "chunk"
	case opChunkInfo:
		return "chunk-info"
	case opConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// maxRecordLen bounds any single record header or data length. A length
// field beyond this is treated as corruption, not as an oversized record.
const maxRecordLen = 1 << 30

// header is a decoded record header: field name -> raw value bytes.
type header map[string][]byte

// parseHeader decodes the name=value field list of a record header.
// offset is the file offset of the header, used for error context.
func parseHeader(raw []byte, offset int64) (header, *ParseError) {
	h := make(header, 8)
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, parseErrorf(offset, "dangling header bytes")
		}
		flen := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		if uint64(flen) > uint64(len(raw)) {
			return nil, parseErrorf(offset, "header field length %d exceeds header", flen)
		}
		field := raw[:flen]
		raw = raw[flen:]
		eq := bytes.IndexByte(field, '=')
		if eq < 0 {
			return nil, parseErrorf(offset, "header field without separator")
		}
		h[string(field[:eq])] = field[eq+1:]
	}
	return h, nil
}

func (h header) op(offset int64) (opcode, *ParseError) {
	v, ok := h["op"]
	if !ok || len(v) != 1 {
		return 0, parseErrorf(offset, "record header missing op field")
	}
	return opcode(v[0]), nil
}

func (h header) u32(name string) (uint32, bool) {
	v, ok := h[name]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

func (h header) u64(name string) (uint64, bool) {
	v, ok := h[name]
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// time decodes a bag timestamp field: secs in the low 4 bytes, nsecs in
// the high 4 bytes, both little-endian.
func (h header) time(name string) (time.Time, bool) {
	v, ok := h[name]
	if !ok || len(v) != 8 {
		return time.Time{}, false
	}
	sec := binary.LittleEndian.Uint32(v[0:4])
	nsec := binary.LittleEndian.Uint32(v[4:8])
	return time.Unix(int64(sec), int64(nsec)).UTC(), true
}

func (h header) str(name string) (string, bool) {
	v, ok := h[name]
	if !ok {
		return "", false
	}
	return string(v), true
}

// countingReader tracks the byte offset of a sequential read.
type countingReader struct {
	r   io.Reader
	off int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.off += int64(n)
	return n, err
}

// readLen reads one little-endian length prefix. io.EOF at a record
// boundary propagates unchanged so callers can distinguish a clean end
// of stream from a mid-record cut.
func readLen(r *countingReader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// readHeaderBlock reads the length-prefixed header of the next record.
// A nil header with nil error means a clean end of stream.
func readHeaderBlock(r *countingReader) (header, int64, error) {
	start := r.off
	hlen, err := readLen(r)
	if err != nil {
		if err == io.EOF {
			return nil, start, nil
		}
		return nil, start, err
	}
	if hlen > maxRecordLen {
		return nil, start, parseErrorf(start, "header length %d out of range", hlen)
	}
	raw := make([]byte, hlen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, start, err
	}
	h, perr := parseHeader(raw, start)
	if perr != nil {
		return nil, start, perr
	}
	return h, start, nil
}
