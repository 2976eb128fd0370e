package pages

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// Serialize produces the 4096-byte image of p, checksum included.
func Serialize(p Page) []byte {
	buf := make([]byte, 0, PageSize)
	switch pg := p.(type) {
	case *RootPointerPage:
		buf = writeCommonHeader(buf, CategoryRootPointer, pg.parent)
		buf = util.WriteUB4(buf, pg.rootIndex)
		buf = util.WriteUB4(buf, uint32(pg.rootCategory))
		buf = util.WriteUB4(buf, pg.headerIndex)
		buf = util.WriteUB4(buf, pg.height)
	case *InternalPage:
		buf = writeCommonHeader(buf, CategoryInternal, pg.parent)
		buf = util.WriteUB2(buf, uint16(len(pg.keys)))
		buf = util.WriteUB4(buf, uint32(pg.childCategory))
		for _, c := range pg.children {
			buf = util.WriteUB4(buf, c)
		}
		keyType := pg.layout.KeyType()
		for _, k := range pg.keys {
			buf = basic.AppendCell(buf, k, keyType)
		}
	case *LeafPage:
		buf = writeCommonHeader(buf, CategoryLeaf, pg.parent)
		buf = util.WriteUB4(buf, pg.left)
		buf = util.WriteUB4(buf, pg.right)
		buf = util.WriteUB2(buf, uint16(len(pg.tuples)))
		for _, t := range pg.tuples {
			buf = t.Encode(buf, pg.layout.Schema)
		}
	case *HeaderPage:
		buf = writeCommonHeader(buf, CategoryHeader, pg.parent)
		buf = util.WriteUB4(buf, pg.next)
		buf = util.WriteUB4(buf, pg.base)
		buf = util.WriteBytes(buf, pg.bitmap[:])
	default:
		panic("pages: unknown page type")
	}
	buf = util.PadZero(buf, PayloadEnd-len(buf))
	return util.WriteUB4(buf, util.Checksum32(buf[:PayloadEnd]))
}

func writeCommonHeader(buf []byte, category Category, parent uint32) []byte {
	buf = util.WriteUB4(buf, uint32(category))
	return util.WriteUB4(buf, parent)
}

// VerifyChecksum checks the trailer of a raw page image.
func VerifyChecksum(data []byte) error {
	if len(data) != PageSize {
		return errors.WithMessagef(basic.ErrCorruption, "page image has %d bytes", len(data))
	}
	_, stored := util.ReadUB4(data, PayloadEnd)
	if actual := util.Checksum32(data[:PayloadEnd]); actual != stored {
		return errors.WithMessagef(basic.ErrCorruption, "checksum mismatch: stored %08x, computed %08x", stored, actual)
	}
	return nil
}

// Deserialize decodes an image produced by Serialize. Layout is required for
// internal and leaf pages.
func Deserialize(pid PageID, data []byte, layout *TableLayout) (Page, error) {
	if err := VerifyChecksum(data); err != nil {
		return nil, errors.WithMessagef(err, "page %s", pid)
	}
	cursor, category := util.ReadUB4(data, 0)
	if Category(category) != pid.Category {
		return nil, errors.WithMessagef(basic.ErrCorruption, "page %s holds a %s image", pid, Category(category))
	}
	cursor, parent := util.ReadUB4(data, cursor)

	switch pid.Category {
	case CategoryRootPointer:
		p := &RootPointerPage{basePage: newBasePage(pid, parent)}
		var rootCategory uint32
		cursor, p.rootIndex = util.ReadUB4(data, cursor)
		cursor, rootCategory = util.ReadUB4(data, cursor)
		cursor, p.headerIndex = util.ReadUB4(data, cursor)
		_, p.height = util.ReadUB4(data, cursor)
		p.rootCategory = Category(rootCategory)
		if p.rootCategory != CategoryLeaf && p.rootCategory != CategoryInternal {
			return nil, errors.WithMessagef(basic.ErrCorruption, "root pointer %s names a %s root", pid, p.rootCategory)
		}
		return p, nil

	case CategoryInternal:
		if layout == nil {
			return nil, errors.Errorf("page %s: internal page needs a table layout", pid)
		}
		var count uint16
		var childCategory uint32
		cursor, count = util.ReadUB2(data, cursor)
		cursor, childCategory = util.ReadUB4(data, cursor)
		if int(count) > PhysicalInternalCapacity(layout.KeyType()) {
			return nil, errors.WithMessagef(basic.ErrCorruption, "page %s: %d keys exceed page capacity", pid, count)
		}
		if Category(childCategory) != CategoryInternal && Category(childCategory) != CategoryLeaf {
			return nil, errors.WithMessagef(basic.ErrCorruption, "page %s: bad child category %d", pid, childCategory)
		}
		p := NewInternalPage(pid, layout, parent, Category(childCategory))
		p.children = make([]uint32, int(count)+1)
		for i := range p.children {
			cursor, p.children[i] = util.ReadUB4(data, cursor)
		}
		keyType := layout.KeyType()
		p.keys = make([]basic.Cell, count)
		for i := range p.keys {
			p.keys[i] = basic.DecodeCell(data[cursor:], keyType)
			cursor += keyType.Size()
		}
		return p, nil

	case CategoryLeaf:
		if layout == nil {
			return nil, errors.Errorf("page %s: leaf page needs a table layout", pid)
		}
		p := NewLeafPage(pid, layout, parent)
		var count uint16
		cursor, p.left = util.ReadUB4(data, cursor)
		cursor, p.right = util.ReadUB4(data, cursor)
		cursor, count = util.ReadUB2(data, cursor)
		if int(count) > PhysicalLeafCapacity(layout.Schema) {
			return nil, errors.WithMessagef(basic.ErrCorruption, "page %s: %d tuples exceed page capacity", pid, count)
		}
		size := layout.Schema.TupleSize()
		p.tuples = make([]*basic.Tuple, count)
		for i := range p.tuples {
			t, err := basic.DecodeTuple(layout.Schema, data[cursor:cursor+size])
			if err != nil {
				return nil, errors.WithMessagef(err, "page %s slot %d", pid, i)
			}
			p.tuples[i] = t
			cursor += size
		}
		return p, nil

	case CategoryHeader:
		p := &HeaderPage{basePage: newBasePage(pid, parent)}
		cursor, p.next = util.ReadUB4(data, cursor)
		cursor, p.base = util.ReadUB4(data, cursor)
		copy(p.bitmap[:], data[cursor:PayloadEnd])
		return p, nil
	}
	return nil, errors.WithMessagef(basic.ErrCorruption, "page %s: unknown category", pid)
}
