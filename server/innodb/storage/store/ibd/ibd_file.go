/*
IBD 文件: 每张表一个页面文件, table_<id>.ibd, 由定长 4096 字节页面组成.

	页 0: 根指针页 (root pointer)
	页 1: 第一个头页 (header, 空闲页位图)
	页 2: 初始根叶子页
	其余: 按位图分配的内部页 / 叶子页 / 后续头页

IBD_File 是最底层, 只负责按页号读写, 不关心页面分配状态.
*/

package ibd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// FileName is the page file name for a table id.
func FileName(tableID uint32) string {
	return fmt.Sprintf("table_%d.ibd", tableID)
}

// IBD_File is one table's page file.
type IBD_File struct {
	sync.RWMutex
	filePath string
	file     *os.File
	tableID  uint32
}

func NewIBDFile(dataDir string, tableID uint32) *IBD_File {
	return &IBD_File{
		filePath: filepath.Join(dataDir, FileName(tableID)),
		tableID:  tableID,
	}
}

// Open opens an existing page file.
func (f *IBD_File) Open() error {
	f.Lock()
	defer f.Unlock()

	if f.file != nil {
		return nil
	}
	file, err := os.OpenFile(f.filePath, os.O_RDWR, 0666)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WithMessagef(basic.ErrPageNotFound, "page file %s does not exist", f.filePath)
		}
		return errors.WithMessagef(basic.ErrIOFailure, "open %s: %v", f.filePath, err)
	}
	f.file = file
	return nil
}

// Create creates the file and writes the initial page images, indexed by page number.
func (f *IBD_File) Create(initial [][]byte) error {
	f.Lock()
	defer f.Unlock()

	if f.file != nil {
		return errors.Errorf("file already open: %s", f.filePath)
	}
	if err := os.MkdirAll(filepath.Dir(f.filePath), 0755); err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "create directory for %s: %v", f.filePath, err)
	}
	file, err := os.OpenFile(f.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "create %s: %v", f.filePath, err)
	}
	f.file = file

	for i, image := range initial {
		if err := f.writePageUnsafe(uint32(i), image); err != nil {
			f.file.Close()
			f.file = nil
			return err
		}
	}
	if err := f.file.Sync(); err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "sync %s: %v", f.filePath, err)
	}
	return nil
}

func (f *IBD_File) writePageUnsafe(pageNo uint32, page []byte) error {
	if f.file == nil {
		return errors.Errorf("file not open: %s", f.filePath)
	}
	if len(page) != pages.PageSize {
		return errors.Errorf("invalid page size: %d", len(page))
	}

	offset := int64(pageNo) * int64(pages.PageSize)
	n, err := f.file.WriteAt(page, offset)
	if err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "write page %d of %s: %v", pageNo, f.filePath, err)
	}
	if n != pages.PageSize {
		return errors.WithMessagef(basic.ErrIOFailure, "incomplete page write: %d bytes", n)
	}
	return nil
}

// ReadPageInto fills buf (exactly one page) with page pageNo. Pages past the end
// of the file do not exist.
func (f *IBD_File) ReadPageInto(pageNo uint32, buf []byte) error {
	f.RLock()
	defer f.RUnlock()

	if f.file == nil {
		return errors.Errorf("file not open: %s", f.filePath)
	}
	if len(buf) != pages.PageSize {
		return errors.Errorf("invalid buffer size: %d", len(buf))
	}

	offset := int64(pageNo) * int64(pages.PageSize)
	n, err := f.file.ReadAt(buf, offset)
	if err == io.EOF && n == 0 {
		return errors.WithMessagef(basic.ErrPageNotFound, "page %d of %s", pageNo, f.filePath)
	}
	if err != nil && err != io.EOF {
		return errors.WithMessagef(basic.ErrIOFailure, "read page %d of %s: %v", pageNo, f.filePath, err)
	}
	if n != pages.PageSize {
		return errors.WithMessagef(basic.ErrCorruption, "page %d of %s is truncated to %d bytes", pageNo, f.filePath, n)
	}
	return nil
}

// ReadPage reads a page into a fresh buffer.
func (f *IBD_File) ReadPage(pageNo uint32) ([]byte, error) {
	page := make([]byte, pages.PageSize)
	if err := f.ReadPageInto(pageNo, page); err != nil {
		return nil, err
	}
	return page, nil
}

// WritePage writes a page to disk
func (f *IBD_File) WritePage(pageNo uint32, page []byte) error {
	f.Lock()
	defer f.Unlock()
	return f.writePageUnsafe(pageNo, page)
}

// Sync flushes file buffers to disk
func (f *IBD_File) Sync() error {
	f.RLock()
	defer f.RUnlock()

	if f.file == nil {
		return errors.Errorf("file not open: %s", f.filePath)
	}
	if err := f.file.Sync(); err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "sync %s: %v", f.filePath, err)
	}
	return nil
}

func (f *IBD_File) TableID() uint32 {
	return f.tableID
}

func (f *IBD_File) FilePath() string {
	return f.filePath
}

// Close syncs and closes the file.
func (f *IBD_File) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.file == nil {
		return nil
	}
	defer func() { f.file = nil }()
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return errors.WithMessagef(basic.ErrIOFailure, "sync %s: %v", f.filePath, err)
	}
	if err := f.file.Close(); err != nil {
		return errors.WithMessagef(basic.ErrIOFailure, "close %s: %v", f.filePath, err)
	}
	return nil
}

// Exists checks if the page file exists on disk
func (f *IBD_File) Exists() bool {
	_, err := os.Stat(f.filePath)
	return err == nil
}

// NumPages is the file size in whole pages.
func (f *IBD_File) NumPages() (uint32, error) {
	f.RLock()
	defer f.RUnlock()

	if f.file == nil {
		return 0, errors.Errorf("file not open: %s", f.filePath)
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, errors.WithMessagef(basic.ErrIOFailure, "stat %s: %v", f.filePath, err)
	}
	return uint32(info.Size() / pages.PageSize), nil
}
