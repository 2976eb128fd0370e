package logs

import (
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// Codec compresses page images inside UPDATE records.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	}
	return "none"
}

// ParseCodec accepts the names used in the [log] compression setting.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, errors.Errorf("unknown log compression %q", name)
}

// per-image storage mode; lz4 falls back to raw for incompressible images
const (
	imageRaw byte = iota
	imageSnappy
	imageLZ4
)

func compressImage(buf []byte, image []byte, codec Codec) []byte {
	buf = util.WriteUB4(buf, uint32(len(image)))
	if len(image) == 0 {
		buf = util.WriteByte(buf, imageRaw)
		return util.WriteWithLength(buf, nil)
	}
	switch codec {
	case CodecSnappy:
		buf = util.WriteByte(buf, imageSnappy)
		return util.WriteWithLength(buf, snappy.Encode(nil, image))
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(image)))
		n, err := lz4.CompressBlock(image, dst, nil)
		if err == nil && n > 0 {
			buf = util.WriteByte(buf, imageLZ4)
			return util.WriteWithLength(buf, dst[:n])
		}
	}
	buf = util.WriteByte(buf, imageRaw)
	return util.WriteWithLength(buf, image)
}

func decompressImage(data []byte, cursor int) (int, []byte, error) {
	if cursor+5 > len(data) {
		return cursor, nil, util.ErrShortBuffer
	}
	cursor, rawLen := util.ReadUB4(data, cursor)
	cursor, mode := util.ReadByte(data, cursor)
	cursor, stored, err := util.ReadWithLength(data, cursor)
	if err != nil {
		return cursor, nil, err
	}
	if rawLen == 0 {
		return cursor, nil, nil
	}
	switch mode {
	case imageRaw:
		return cursor, append([]byte(nil), stored...), nil
	case imageSnappy:
		image, err := snappy.Decode(nil, stored)
		if err != nil {
			return cursor, nil, errors.Wrap(err, "snappy decode")
		}
		if len(image) != int(rawLen) {
			return cursor, nil, errors.Errorf("snappy image is %d bytes, want %d", len(image), rawLen)
		}
		return cursor, image, nil
	case imageLZ4:
		image := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, image)
		if err != nil {
			return cursor, nil, errors.Wrap(err, "lz4 decode")
		}
		if n != int(rawLen) {
			return cursor, nil, errors.Errorf("lz4 image is %d bytes, want %d", n, rawLen)
		}
		return cursor, image, nil
	}
	return cursor, nil, errors.Errorf("unknown image mode %d", mode)
}

// EncodePayload appends the payload of r. Images are compressed with codec.
func EncodePayload(buf []byte, r *Record, codec Codec) []byte {
	buf = util.WriteByte(buf, byte(r.Kind))
	buf = util.WriteByte(buf, byte(codec))
	buf = util.WriteUB8(buf, uint64(r.TxID))
	switch r.Kind {
	case KindUpdate:
		buf = util.WriteUB4(buf, r.PageID.TableID)
		buf = util.WriteUB4(buf, uint32(r.PageID.Category))
		buf = util.WriteUB4(buf, r.PageID.Index)
		buf = compressImage(buf, r.Before, codec)
		buf = compressImage(buf, r.After, codec)
	case KindCheckpoint:
		buf = util.WriteUB4(buf, uint32(len(r.Active)))
		for _, a := range r.Active {
			buf = util.WriteUB8(buf, uint64(a.TxID))
			buf = util.WriteUB8(buf, uint64(a.StartOffset))
		}
	}
	return buf
}

const payloadFixed = 1 + 1 + 8

// DecodePayload parses a payload written by EncodePayload.
func DecodePayload(data []byte) (*Record, error) {
	if len(data) < payloadFixed {
		return nil, errors.WithMessagef(basic.ErrCorruption, "log payload of %d bytes", len(data))
	}
	r := &Record{}
	cursor, kind := util.ReadByte(data, 0)
	cursor, codec := util.ReadByte(data, cursor)
	cursor, tx := util.ReadUB8(data, cursor)
	r.Kind, r.Codec, r.TxID = Kind(kind), Codec(codec), basic.TxID(tx)

	switch r.Kind {
	case KindStart, KindCommit, KindAbort:
	case KindUpdate:
		if cursor+12 > len(data) {
			return nil, errors.WithMessage(basic.ErrCorruption, "update record without page id")
		}
		var tableID, category, index uint32
		cursor, tableID = util.ReadUB4(data, cursor)
		cursor, category = util.ReadUB4(data, cursor)
		cursor, index = util.ReadUB4(data, cursor)
		r.PageID = pages.NewPageID(tableID, pages.Category(category), index)
		var err error
		if cursor, r.Before, err = decompressImage(data, cursor); err != nil {
			return nil, errors.WithMessagef(basic.ErrCorruption, "before image: %v", err)
		}
		if _, r.After, err = decompressImage(data, cursor); err != nil {
			return nil, errors.WithMessagef(basic.ErrCorruption, "after image: %v", err)
		}
	case KindCheckpoint:
		if cursor+4 > len(data) {
			return nil, errors.WithMessage(basic.ErrCorruption, "checkpoint without count")
		}
		var n uint32
		cursor, n = util.ReadUB4(data, cursor)
		if cursor+int(n)*16 > len(data) {
			return nil, errors.WithMessagef(basic.ErrCorruption, "checkpoint lists %d transactions", n)
		}
		r.Active = make([]ActiveTx, n)
		for i := range r.Active {
			var id, off uint64
			cursor, id = util.ReadUB8(data, cursor)
			cursor, off = util.ReadUB8(data, cursor)
			r.Active[i] = ActiveTx{TxID: basic.TxID(id), StartOffset: int64(off)}
		}
	default:
		return nil, errors.WithMessagef(basic.ErrCorruption, "unknown record kind %d", kind)
	}
	return r, nil
}
