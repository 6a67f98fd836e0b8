package rosbag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Reader performs a single structural pass over a bag byte stream.
// It never retains message payloads and never buffers more than one
// chunk's data at a time.
type Reader struct {
	r    io.Reader
	size int64 // total stream size if known, else -1
}

// NewReader creates a Reader over an arbitrary byte stream. size is the
// total stream length in bytes, or -1 if unknown.
func NewReader(r io.Reader, size int64) *Reader {
	return &Reader{r: r, size: size}
}

// Scan walks the stream once and returns its structural summary.
//
// A stream that ends mid-record yields Info.Truncated=true with
// everything parsed up to the cut; this is not an error. A structurally
// inconsistent record yields a *ParseError. A wrong magic or an unknown
// chunk compression yields ErrUnsupportedFormat.
func (r *Reader) Scan(ctx context.Context) (*Info, error) {
	return scan(ctx, r.r, r.size, nil)
}

// File is an open bag file supporting repeated scans and message
// iteration. Every pass restarts from the beginning of the file.
type File struct {
	f    *os.File
	path string
	size int64
}

// Open opens a bag file for scanning and message iteration.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is the caller's bag file
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{f: f, path: path, size: st.Size()}, nil
}

// Path returns the file path the File was opened with.
func (f *File) Path() string { return f.path }

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.size }

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

// Scan walks the file from the start and returns its structural summary.
func (f *File) Scan(ctx context.Context) (*Info, error) {
	if _, err := f.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return scan(ctx, f.f, f.size, nil)
}

// Messages replays the stored messages of the selected topics in
// timestamp order, invoking fn for each. info must come from a prior
// Scan of the same file; its chunk index is used to skip chunks that
// hold no selected messages. Payload bytes are handed to fn as-is and
// are only valid for the duration of the call.
func (f *File) Messages(ctx context.Context, info *Info, topics []string, fn func(*Message) error) error {
	if len(topics) == 0 {
		return ErrNoMessages
	}
	sel := &selection{
		conns: make(map[uint32]Connection, len(topics)),
		fn:    fn,
	}
	for _, topic := range topics {
		c, ok := info.Connection(topic)
		if !ok {
			continue
		}
		sel.conns[c.ID] = c
	}
	if len(sel.conns) == 0 {
		return ErrNoMessages
	}
	ids := make(map[uint32]struct{}, len(sel.conns))
	for id := range sel.conns {
		ids[id] = struct{}{}
	}
	sel.chunks = info.chunksFor(ids)

	if _, err := f.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := scan(ctx, f.f, f.size, sel)
	return err
}

// selection drives message extraction during a scan pass.
type selection struct {
	conns  map[uint32]Connection
	chunks *roaring.Bitmap // nil: visit every chunk
	fn     func(*Message) error
}

func (s *selection) wantsChunk(ordinal int) bool {
	if s == nil {
		return true
	}
	if s.chunks == nil {
		return true
	}
	return s.chunks.Contains(uint32(ordinal)) //nolint:gosec // ordinal is a small non-negative counter
}

func isCut(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// scan is the single-pass structural walk shared by Scan and Messages.
func scan(ctx context.Context, r io.Reader, size int64, sel *selection) (*Info, error) {
	cr := &countingReader{r: bufio.NewReaderSize(r, 64<<10)}

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(cr, magic); err != nil {
		return nil, unsupportedf("missing version header")
	}
	if string(magic) != Magic {
		return nil, unsupportedf("bad magic %q", string(bytes.ToValidUTF8(magic, []byte{'?'})))
	}

	st := &scanState{
		info:      &Info{Size: size},
		connByID:  map[uint32]int{},
		posToOrd:  map[int64]int{},
		selection: sel,
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, start, err := readHeaderBlock(cr)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				return nil, pe
			}
			if isCut(err) {
				st.info.Truncated = true
				break
			}
			return nil, err
		}
		if h == nil {
			break // clean end of stream
		}
		done, err := st.record(cr, h, start)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	st.finish(cr.off, size)
	return st.info, nil
}

type scanState struct {
	info      *Info
	connByID  map[uint32]int // connection ID -> index into info.Connections
	posToOrd  map[int64]int  // chunk byte position -> chunk ordinal
	selection *selection
}

// record consumes the data section of one top-level record. It returns
// done=true when the file turned out to be truncated mid-record.
func (st *scanState) record(cr *countingReader, h header, start int64) (bool, error) {
	op, perr := h.op(start)
	if perr != nil {
		return false, perr
	}

	dlen, err := readLen(cr)
	if err != nil {
		if isCut(err) {
			st.info.Truncated = true
			return true, nil
		}
		return false, err
	}
	if dlen > maxRecordLen {
		return false, parseErrorf(start, "data length %d out of range", dlen)
	}

	switch op {
	case opBagHeader:
		// Fixed-size padded record; contents are advisory.
		return st.discard(cr, dlen)

	case opConnection:
		data := make([]byte, dlen)
		if _, err := io.ReadFull(cr, data); err != nil {
			if isCut(err) {
				st.info.Truncated = true
				return true, nil
			}
			return false, err
		}
		return false, st.connection(h, data, start)

	case opChunk:
		return st.chunk(cr, h, dlen, start)

	case opIndexData:
		if ver, ok := h.u32("ver"); !ok || ver != 1 {
			return false, parseErrorf(start, "unsupported index data version")
		}
		return st.discard(cr, dlen)

	case opChunkInfo:
		data := make([]byte, dlen)
		if _, err := io.ReadFull(cr, data); err != nil {
			if isCut(err) {
				st.info.Truncated = true
				return true, nil
			}
			return false, err
		}
		return false, st.chunkInfo(h, data, start)

	case opMessageData:
		// Unchunked message, seen in bags flushed without an index.
		return st.message(cr, h, dlen, start, nil)

	default:
		return false, parseErrorf(start, "unknown record kind 0x%02x", byte(op))
	}
}

func (st *scanState) discard(cr *countingReader, dlen uint32) (bool, error) {
	if _, err := io.CopyN(io.Discard, cr, int64(dlen)); err != nil {
		if isCut(err) {
			st.info.Truncated = true
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// connection registers a connection definition. Definitions repeat
// inside chunks and in the trailing index region; later duplicates are
// ignored.
func (st *scanState) connection(h header, data []byte, start int64) error {
	id, ok := h.u32("conn")
	if !ok {
		return parseErrorf(start, "connection record missing conn field")
	}
	if _, seen := st.connByID[id]; seen {
		return nil
	}

	inner, perr := parseHeader(data, start)
	if perr != nil {
		return perr
	}
	topic, ok := h.str("topic")
	if !ok || topic == "" {
		topic, _ = inner.str("topic")
	}
	if topic == "" {
		return parseErrorf(start, "connection record missing topic")
	}
	typ, _ := inner.str("type")
	md5, _ := inner.str("md5sum")

	st.connByID[id] = len(st.info.Connections)
	st.info.Connections = append(st.info.Connections, Connection{
		ID:          id,
		Topic:       topic,
		MessageType: typ,
		MD5Sum:      md5,
	})
	return nil
}

// chunk reads a chunk's compressed data fully, then walks the records
// inside it. A short read of the raw chunk bytes means the file was cut
// mid-chunk (truncation); any inconsistency inside fully-present chunk
// data is corruption.
func (st *scanState) chunk(cr *countingReader, h header, dlen uint32, start int64) (bool, error) {
	compression, ok := h.str("compression")
	if !ok {
		compression = compressionNone
	}
	usize, ok := h.u32("size")
	if !ok {
		return false, parseErrorf(start, "chunk record missing size field")
	}

	ordinal := st.info.ChunkCount
	st.info.ChunkCount++
	st.posToOrd[start] = ordinal

	raw := make([]byte, dlen)
	if _, err := io.ReadFull(cr, raw); err != nil {
		if isCut(err) {
			st.info.Truncated = true
			return true, nil
		}
		return false, err
	}

	if st.selection != nil && !st.selection.wantsChunk(ordinal) {
		// Index says no selected messages here; counts were already
		// taken on the structural pass.
		return false, nil
	}

	dec, err := chunkReader(bytes.NewReader(raw), compression, usize)
	if err != nil {
		return false, err
	}
	if err := st.chunkRecords(dec, start); err != nil {
		return false, err
	}
	return false, nil
}

// chunkRecords walks the decompressed record stream of one chunk.
func (st *scanState) chunkRecords(r io.Reader, chunkStart int64) error {
	icr := &countingReader{r: r}
	var pending []Message

	for {
		h, _, err := readHeaderBlock(icr)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				return pe
			}
			if isCut(err) {
				return parseErrorf(chunkStart, "chunk record extends past chunk bounds")
			}
			return err
		}
		if h == nil {
			break
		}
		op, perr := h.op(chunkStart)
		if perr != nil {
			return perr
		}
		dlen, err := readLen(icr)
		if err != nil {
			if isCut(err) {
				return parseErrorf(chunkStart, "chunk record extends past chunk bounds")
			}
			return err
		}

		switch op {
		case opConnection:
			data := make([]byte, dlen)
			if _, err := io.ReadFull(icr, data); err != nil {
				return parseErrorf(chunkStart, "chunk record extends past chunk bounds")
			}
			if err := st.connection(h, data, chunkStart); err != nil {
				return err
			}
		case opMessageData:
			if _, err := st.message(icr, h, dlen, chunkStart, &pending); err != nil {
				return err
			}
		default:
			return parseErrorf(chunkStart, "unexpected record kind 0x%02x inside chunk", byte(op))
		}
	}

	return st.emit(pending)
}

// message accounts for one message record. When pending is non-nil and
// the message's connection is selected, the payload is captured for
// ordered emission; otherwise the payload bytes are skipped unread.
func (st *scanState) message(cr *countingReader, h header, dlen uint32, start int64, pending *[]Message) (bool, error) {
	connID, ok := h.u32("conn")
	if !ok {
		return false, parseErrorf(start, "message record missing conn field")
	}
	t, ok := h.time("time")
	if !ok {
		return false, parseErrorf(start, "message record missing time field")
	}

	idx, known := st.connByID[connID]
	if !known {
		return false, parseErrorf(start, "message references undefined connection %d", connID)
	}

	if st.selection == nil {
		c := &st.info.Connections[idx]
		c.MessageCount++
		if c.FirstTime.IsZero() || t.Before(c.FirstTime) {
			c.FirstTime = t
		}
		if t.After(c.LastTime) {
			c.LastTime = t
		}
		if st.info.StartTime.IsZero() || t.Before(st.info.StartTime) {
			st.info.StartTime = t
		}
		if t.After(st.info.EndTime) {
			st.info.EndTime = t
		}
	}

	wants := false
	var conn Connection
	if st.selection != nil {
		conn, wants = st.selection.conns[connID]
	}
	if !wants {
		if _, err := io.CopyN(io.Discard, cr, int64(dlen)); err != nil {
			if isCut(err) && pending == nil {
				st.info.Truncated = true
				return true, nil
			}
			return false, parseErrorf(start, "message payload extends past bounds")
		}
		return false, nil
	}

	data := make([]byte, dlen)
	if _, err := io.ReadFull(cr, data); err != nil {
		if isCut(err) && pending == nil {
			st.info.Truncated = true
			return true, nil
		}
		return false, parseErrorf(start, "message payload extends past bounds")
	}
	msg := Message{
		ConnID: connID,
		Topic:  conn.Topic,
		Type:   conn.MessageType,
		Time:   t,
		Data:   data,
	}
	if pending != nil {
		*pending = append(*pending, msg)
		return false, nil
	}
	return false, st.selection.fn(&msg)
}

// emit hands captured chunk messages to the selection callback in
// timestamp order.
func (st *scanState) emit(pending []Message) error {
	if st.selection == nil || len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Time.Before(pending[j].Time)
	})
	for i := range pending {
		if err := st.selection.fn(&pending[i]); err != nil {
			return err
		}
	}
	return nil
}

func (st *scanState) chunkInfo(h header, data []byte, start int64) error {
	if ver, ok := h.u32("ver"); !ok || ver != 1 {
		return parseErrorf(start, "unsupported chunk info version")
	}
	pos, ok := h.u64("chunk_pos")
	if !ok {
		return parseErrorf(start, "chunk info missing chunk_pos")
	}
	startTime, ok := h.time("start_time")
	if !ok {
		return parseErrorf(start, "chunk info missing start_time")
	}
	endTime, ok := h.time("end_time")
	if !ok {
		return parseErrorf(start, "chunk info missing end_time")
	}
	count, ok := h.u32("count")
	if !ok {
		return parseErrorf(start, "chunk info missing count")
	}
	if uint64(len(data)) < uint64(count)*8 {
		return parseErrorf(start, "chunk info entries exceed record data")
	}

	ci := ChunkInfo{
		Pos:       int64(pos), //nolint:gosec // positions fit the file size
		StartTime: startTime,
		EndTime:   endTime,
		Counts:    make(map[uint32]uint32, count),
	}
	for i := uint32(0); i < count; i++ {
		connID := binary.LittleEndian.Uint32(data[i*8:])
		ci.Counts[connID] = binary.LittleEndian.Uint32(data[i*8+4:])
	}
	st.info.ChunkInfos = append(st.info.ChunkInfos, ci)

	if ord, ok := st.posToOrd[ci.Pos]; ok {
		if st.info.chunkIndex == nil {
			st.info.chunkIndex = map[uint32]*roaring.Bitmap{}
		}
		for connID := range ci.Counts {
			bm := st.info.chunkIndex[connID]
			if bm == nil {
				bm = roaring.New()
				st.info.chunkIndex[connID] = bm
			}
			bm.Add(uint32(ord)) //nolint:gosec // ordinal is a small non-negative counter
		}
	}
	return nil
}

// finish fills derived fields once the walk ends.
func (st *scanState) finish(read int64, size int64) {
	if size < 0 {
		st.info.Size = read
	}
}
