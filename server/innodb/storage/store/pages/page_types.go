package pages

import "fmt"

// Category 页面类型, 写在每个页面的前 4 个字节
type Category uint32

const (
	CategoryRootPointer Category = iota + 1
	CategoryInternal
	CategoryLeaf
	CategoryHeader
)

func (c Category) String() string {
	switch c {
	case CategoryRootPointer:
		return "rootptr"
	case CategoryInternal:
		return "internal"
	case CategoryLeaf:
		return "leaf"
	case CategoryHeader:
		return "header"
	}
	return fmt.Sprintf("category(%d)", uint32(c))
}

func (c Category) Valid() bool {
	return c >= CategoryRootPointer && c <= CategoryHeader
}

// PageID addresses one page of one table's page file. Comparable, used as the
// cache key and the lock key.
type PageID struct {
	TableID  uint32
	Category Category
	Index    uint32
}

func NewPageID(tableID uint32, category Category, index uint32) PageID {
	return PageID{TableID: tableID, Category: category, Index: index}
}

// RootPointerID is always page 0 of the table file.
func RootPointerID(tableID uint32) PageID {
	return PageID{TableID: tableID, Category: CategoryRootPointer, Index: RootPointerIndex}
}

func (p PageID) String() string {
	return fmt.Sprintf("t%d/%s/%d", p.TableID, p.Category, p.Index)
}

// Location ignores the category: two ids with the same location share bytes on disk.
func (p PageID) Location() Location {
	return Location{TableID: p.TableID, Index: p.Index}
}

// Location is a physical slot in a page file.
type Location struct {
	TableID uint32
	Index   uint32
}
