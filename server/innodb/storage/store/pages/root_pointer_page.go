package pages

// RootPointerPage is page 0 of every table file. It names the current root and
// the tree height so the root can move without rewriting the file header.
type RootPointerPage struct {
	basePage
	rootIndex    uint32
	rootCategory Category
	headerIndex  uint32
	height       uint32
}

func NewRootPointerPage(tableID uint32) *RootPointerPage {
	return &RootPointerPage{
		basePage:     newBasePage(RootPointerID(tableID), 0),
		rootIndex:    InitialRootIndex,
		rootCategory: CategoryLeaf,
		headerIndex:  FirstHeaderIndex,
		height:       1,
	}
}

func (p *RootPointerPage) Root() PageID {
	return NewPageID(p.pid.TableID, p.rootCategory, p.rootIndex)
}

func (p *RootPointerPage) SetRoot(root PageID) {
	p.rootIndex = root.Index
	p.rootCategory = root.Category
}

// Height counts levels; a tree that is a single leaf has height 1.
func (p *RootPointerPage) Height() int {
	return int(p.height)
}

func (p *RootPointerPage) SetHeight(h int) {
	p.height = uint32(h)
}

func (p *RootPointerPage) HeaderID() PageID {
	return NewPageID(p.pid.TableID, CategoryHeader, p.headerIndex)
}

func (p *RootPointerPage) SetBeforeImage() {
	p.before = Serialize(p)
}
