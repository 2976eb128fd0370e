package logs

import (
	"io"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// 日志文件头: magic(4) | version(2) | reserved(2) | last checkpoint offset(8)
const (
	Magic   uint32 = 0x58425457
	Version uint16 = 1

	FileHeaderSize       = 16
	CheckpointSlotOffset = 8

	frameHeaderSize = 8
	maxFrameSize    = 16 << 20
)

// ErrTornFrame marks the end of the usable log: a frame that is cut short or
// fails its checksum. Everything from that offset on is discarded by recovery.
var ErrTornFrame = errors.New("torn log frame")

// EncodeFileHeader builds the fixed file header.
func EncodeFileHeader(checkpoint int64) []byte {
	buf := make([]byte, 0, FileHeaderSize)
	buf = util.WriteUB4(buf, Magic)
	buf = util.WriteUB2(buf, Version)
	buf = util.WriteUB2(buf, 0)
	return util.WriteUB8(buf, uint64(checkpoint))
}

// DecodeFileHeader returns the last checkpoint offset, 0 when none was taken.
func DecodeFileHeader(data []byte) (int64, error) {
	if len(data) < FileHeaderSize {
		return 0, errors.WithMessagef(basic.ErrCorruption, "log header has %d bytes", len(data))
	}
	cursor, magic := util.ReadUB4(data, 0)
	if magic != Magic {
		return 0, errors.WithMessagef(basic.ErrCorruption, "bad log magic %08x", magic)
	}
	_, version := util.ReadUB2(data, cursor)
	if version != Version {
		return 0, errors.WithMessagef(basic.ErrCorruption, "unsupported log version %d", version)
	}
	_, checkpoint := util.ReadUB8(data, CheckpointSlotOffset)
	return int64(checkpoint), nil
}

// EncodeFrame returns len | xxhash32 | payload for r.
func EncodeFrame(r *Record, codec Codec) []byte {
	scratch := gxbytes.GetBytes(2*pages.PageSize + 64)
	defer gxbytes.PutBytes(scratch)

	payload := EncodePayload((*scratch)[:0], r, codec)
	frame := make([]byte, 0, frameHeaderSize+len(payload))
	frame = util.WriteUB4(frame, uint32(len(payload)))
	frame = util.WriteUB4(frame, util.Checksum32(payload))
	return util.WriteBytes(frame, payload)
}

// Reader walks frames of a log file from a start offset up to end.
type Reader struct {
	r      io.ReaderAt
	end    int64
	offset int64
}

func NewReader(r io.ReaderAt, offset, end int64) *Reader {
	return &Reader{r: r, offset: offset, end: end}
}

// Offset is the end of the last frame returned by Next.
func (rd *Reader) Offset() int64 {
	return rd.offset
}

// Next returns the next record, io.EOF at a clean end, or ErrTornFrame.
func (rd *Reader) Next() (*Record, error) {
	if rd.offset >= rd.end {
		return nil, io.EOF
	}
	if rd.offset+frameHeaderSize > rd.end {
		return nil, errors.WithMessagef(ErrTornFrame, "frame header at %d", rd.offset)
	}
	var header [frameHeaderSize]byte
	if _, err := rd.r.ReadAt(header[:], rd.offset); err != nil {
		return nil, errors.WithMessagef(basic.ErrIOFailure, "read frame header at %d: %v", rd.offset, err)
	}
	cursor, length := util.ReadUB4(header[:], 0)
	_, sum := util.ReadUB4(header[:], cursor)
	if length > maxFrameSize || rd.offset+frameHeaderSize+int64(length) > rd.end {
		return nil, errors.WithMessagef(ErrTornFrame, "frame at %d claims %d bytes", rd.offset, length)
	}

	bufp := gxbytes.GetBytes(int(length))
	defer gxbytes.PutBytes(bufp)
	payload := *bufp
	if _, err := rd.r.ReadAt(payload, rd.offset+frameHeaderSize); err != nil {
		return nil, errors.WithMessagef(basic.ErrIOFailure, "read frame at %d: %v", rd.offset, err)
	}
	if util.Checksum32(payload) != sum {
		return nil, errors.WithMessagef(ErrTornFrame, "checksum mismatch at %d", rd.offset)
	}
	rec, err := DecodePayload(payload)
	if err != nil {
		return nil, errors.WithMessagef(ErrTornFrame, "frame at %d: %v", rd.offset, err)
	}
	rec.Offset = rd.offset
	rd.offset += frameHeaderSize + int64(length)
	return rec, nil
}
