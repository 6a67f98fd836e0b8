package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Field is one name=value entry of a bag record header.
type Field struct {
	Name  string
	Value []byte
}

// FieldOp builds the op field selecting the record kind.
func FieldOp(op byte) Field { return Field{Name: "op", Value: []byte{op}} }

// FieldU32 builds a little-endian uint32 header field.
func FieldU32(name string, v uint32) Field {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return Field{Name: name, Value: b}
}

// FieldU64 builds a little-endian uint64 header field.
func FieldU64(name string, v uint64) Field {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Field{Name: name, Value: b}
}

// FieldTime builds a bag timestamp field (secs low, nsecs high).
func FieldTime(name string, t time.Time) Field {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(t.Unix()))       //nolint:gosec // test times
	binary.LittleEndian.PutUint32(b[4:8], uint32(t.Nanosecond())) //nolint:gosec // <1e9
	return Field{Name: name, Value: b}
}

// FieldStr builds a string header field.
func FieldStr(name, v string) Field { return Field{Name: name, Value: []byte(v)} }

// EncodeHeader encodes a record header field list.
func EncodeHeader(fields ...Field) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		entry := append([]byte(f.Name+"="), f.Value...)
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(entry))) //nolint:gosec // test-sized
		buf.Write(l[:])
		buf.Write(entry)
	}
	return buf.Bytes()
}

// EncodeRecord encodes one length-prefixed bag record.
func EncodeRecord(data []byte, fields ...Field) []byte {
	header := EncodeHeader(fields...)
	var buf bytes.Buffer
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(header))) //nolint:gosec // test-sized
	buf.Write(l[:])
	buf.Write(header)
	binary.LittleEndian.PutUint32(l[:], uint32(len(data))) //nolint:gosec // test-sized
	buf.Write(l[:])
	buf.Write(data)
	return buf.Bytes()
}

// Msg is one message to place in a bag chunk.
type Msg struct {
	Conn uint32
	Time time.Time
	Data []byte
}

// Conn declares a connection (topic) in a bag under construction.
type Conn struct {
	ID    uint32
	Topic string
	Type  string
}

// BagBuilder assembles valid (and deliberately damaged) ROS bag v2.0
// files for tests. Chunks are written in the order added, followed by
// the trailing index region (connection + chunk info records).
type BagBuilder struct {
	conns       []Conn
	chunks      [][]Msg
	rawChunks   []rawChunk
	compression string
	noIndex     bool
}

type rawChunk struct {
	inner       []byte
	uncompSize  uint32
	compression string
}

// NewBag creates a builder with no compression.
func NewBag() *BagBuilder {
	return &BagBuilder{compression: "none"}
}

// Compression selects the chunk compression scheme ("none", "lz4", or
// any string, including unknown ones for negative tests).
func (b *BagBuilder) Compression(c string) *BagBuilder {
	b.compression = c
	return b
}

// NoIndex omits the trailing index region, like a recording that was
// never finalized.
func (b *BagBuilder) NoIndex() *BagBuilder {
	b.noIndex = true
	return b
}

// Connection declares a topic.
func (b *BagBuilder) Connection(id uint32, topic, msgType string) *BagBuilder {
	b.conns = append(b.conns, Conn{ID: id, Topic: topic, Type: msgType})
	return b
}

// Chunk adds one chunk holding the given messages.
func (b *BagBuilder) Chunk(msgs ...Msg) *BagBuilder {
	b.chunks = append(b.chunks, msgs)
	return b
}

// RawChunk adds a chunk with caller-provided inner record bytes, for
// corruption tests. uncompSize is the declared uncompressed size.
func (b *BagBuilder) RawChunk(inner []byte, uncompSize uint32, compression string) *BagBuilder {
	b.rawChunks = append(b.rawChunks, rawChunk{inner: inner, uncompSize: uncompSize, compression: compression})
	return b
}

func (b *BagBuilder) connRecord(c Conn) []byte {
	inner := EncodeHeader(
		FieldStr("topic", c.Topic),
		FieldStr("type", c.Type),
		FieldStr("md5sum", "d41d8cd98f00b204e9800998ecf8427e"),
	)
	return EncodeRecord(inner,
		FieldOp(0x07),
		FieldU32("conn", c.ID),
		FieldStr("topic", c.Topic),
	)
}

// Build serializes the bag.
func (b *BagBuilder) Build() []byte {
	var out bytes.Buffer
	out.WriteString("#ROSBAG V2.0\n")

	// Bag header record, padded like the reference writer does.
	out.Write(EncodeRecord(bytes.Repeat([]byte{' '}, 128),
		FieldOp(0x03),
		FieldU64("index_pos", 0),
		FieldU32("conn_count", uint32(len(b.conns))),   //nolint:gosec // test-sized
		FieldU32("chunk_count", uint32(len(b.chunks))), //nolint:gosec // test-sized
	))

	type chunkMeta struct {
		pos        int64
		start, end time.Time
		counts     map[uint32]uint32
	}
	var metas []chunkMeta

	for _, msgs := range b.chunks {
		var inner bytes.Buffer
		meta := chunkMeta{counts: map[uint32]uint32{}}
		for _, c := range b.conns {
			inner.Write(b.connRecord(c))
		}
		for _, m := range msgs {
			inner.Write(EncodeRecord(m.Data,
				FieldOp(0x02),
				FieldU32("conn", m.Conn),
				FieldTime("time", m.Time),
			))
			meta.counts[m.Conn]++
			if meta.start.IsZero() || m.Time.Before(meta.start) {
				meta.start = m.Time
			}
			if m.Time.After(meta.end) {
				meta.end = m.Time
			}
		}

		data := inner.Bytes()
		usize := uint32(len(data)) //nolint:gosec // test-sized
		if b.compression == "lz4" {
			var comp bytes.Buffer
			w := lz4.NewWriter(&comp)
			_, _ = w.Write(data)
			_ = w.Close()
			data = comp.Bytes()
		}

		meta.pos = int64(out.Len())
		metas = append(metas, meta)
		out.Write(EncodeRecord(data,
			FieldOp(0x05),
			FieldStr("compression", b.compression),
			FieldU32("size", usize),
		))
	}

	for _, rc := range b.rawChunks {
		out.Write(EncodeRecord(rc.inner,
			FieldOp(0x05),
			FieldStr("compression", rc.compression),
			FieldU32("size", rc.uncompSize),
		))
	}

	if !b.noIndex {
		for _, c := range b.conns {
			out.Write(b.connRecord(c))
		}
		for _, meta := range metas {
			var data bytes.Buffer
			for connID, n := range meta.counts {
				var pair [8]byte
				binary.LittleEndian.PutUint32(pair[0:4], connID)
				binary.LittleEndian.PutUint32(pair[4:8], n)
				data.Write(pair[:])
			}
			start, end := meta.start, meta.end
			if start.IsZero() {
				start = time.Unix(0, 0)
				end = start
			}
			out.Write(EncodeRecord(data.Bytes(),
				FieldOp(0x06),
				FieldU32("ver", 1),
				FieldU64("chunk_pos", uint64(meta.pos)), //nolint:gosec // test-sized
				FieldTime("start_time", start),
				FieldTime("end_time", end),
				FieldU32("count", uint32(len(meta.counts))), //nolint:gosec // test-sized
			))
		}
	}

	return out.Bytes()
}

// WriteFile builds the bag and writes it to path.
func (b *BagBuilder) WriteFile(path string) error {
	return os.WriteFile(path, b.Build(), 0o600)
}
