package ibd

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// FileSet maps table ids to their page files inside one data directory. Files
// that exist on disk are opened on first use, so recovery can write pages of
// tables nobody has opened yet.
type FileSet struct {
	mu      sync.Mutex
	dataDir string
	files   map[uint32]*IBD_File
}

func NewFileSet(dataDir string) *FileSet {
	return &FileSet{dataDir: dataDir, files: make(map[uint32]*IBD_File)}
}

func (s *FileSet) DataDir() string {
	return s.dataDir
}

// Exists reports whether the table's page file is on disk.
func (s *FileSet) Exists(tableID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[tableID]; ok {
		return true
	}
	return NewIBDFile(s.dataDir, tableID).Exists()
}

// Create makes a new page file holding the root pointer page, the first header
// page and an empty root leaf.
func (s *FileSet) Create(layout *pages.TableLayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tableID := layout.TableID
	if _, ok := s.files[tableID]; ok {
		return errors.Errorf("table %d already has a page file", tableID)
	}
	f := NewIBDFile(s.dataDir, tableID)
	if err := f.Create(InitialImages(layout)); err != nil {
		return err
	}
	s.files[tableID] = f
	return nil
}

// InitialImages are pages 0, 1 and 2 of a new table.
func InitialImages(layout *pages.TableLayout) [][]byte {
	tableID := layout.TableID
	root := pages.NewRootPointerPage(tableID)
	header := pages.NewHeaderPage(pages.NewPageID(tableID, pages.CategoryHeader, pages.FirstHeaderIndex), 0)
	header.MarkUsed(pages.RootPointerIndex)
	header.MarkUsed(pages.FirstHeaderIndex)
	header.MarkUsed(pages.InitialRootIndex)
	leaf := pages.NewLeafPage(pages.NewPageID(tableID, pages.CategoryLeaf, pages.InitialRootIndex), layout, pages.RootPointerIndex)
	return [][]byte{pages.Serialize(root), pages.Serialize(header), pages.Serialize(leaf)}
}

func (s *FileSet) file(tableID uint32) (*IBD_File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[tableID]; ok {
		return f, nil
	}
	f := NewIBDFile(s.dataDir, tableID)
	if err := f.Open(); err != nil {
		return nil, err
	}
	s.files[tableID] = f
	return f, nil
}

// ReadPageInto reads pid into buf, which must be one page long.
func (s *FileSet) ReadPageInto(pid pages.PageID, buf []byte) error {
	f, err := s.file(pid.TableID)
	if err != nil {
		return err
	}
	return f.ReadPageInto(pid.Index, buf)
}

func (s *FileSet) ReadPage(pid pages.PageID) ([]byte, error) {
	f, err := s.file(pid.TableID)
	if err != nil {
		return nil, err
	}
	return f.ReadPage(pid.Index)
}

// WritePage writes a full page image at pid's slot.
func (s *FileSet) WritePage(pid pages.PageID, image []byte) error {
	f, err := s.file(pid.TableID)
	if err != nil {
		return err
	}
	return f.WritePage(pid.Index, image)
}

// Sync syncs the given tables, or every open file when none are named.
func (s *FileSet) Sync(tableIDs ...uint32) error {
	if len(tableIDs) == 0 {
		tableIDs = s.openIDs()
	}
	for _, id := range tableIDs {
		f, err := s.file(id)
		if err != nil {
			if errors.Is(err, basic.ErrPageNotFound) {
				continue
			}
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSet) openIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NumPages reports the size of a table file in pages.
func (s *FileSet) NumPages(tableID uint32) (uint32, error) {
	f, err := s.file(tableID)
	if err != nil {
		return 0, err
	}
	return f.NumPages()
}

// Close closes every open file and keeps the first error.
func (s *FileSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for id, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, id)
	}
	return first
}
