package ibd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

func testLayout(t *testing.T, tableID uint32) *pages.TableLayout {
	layout, err := pages.NewTableLayout(tableID, basic.NewIntSchema("k", "v"), 0, 4, 4)
	require.NoError(t, err)
	return layout
}

func TestFileSetCreate(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSet(dir)
	defer fs.Close()

	layout := testLayout(t, 42)
	require.False(t, fs.Exists(42))
	require.NoError(t, fs.Create(layout))
	assert.True(t, fs.Exists(42))
	assert.FileExists(t, filepath.Join(dir, "table_42.ibd"))

	n, err := fs.NumPages(42)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	img, err := fs.ReadPage(pages.RootPointerID(42))
	require.NoError(t, err)
	p, err := pages.Deserialize(pages.RootPointerID(42), img, nil)
	require.NoError(t, err)
	rp := p.(*pages.RootPointerPage)
	assert.Equal(t, pages.NewPageID(42, pages.CategoryLeaf, 2), rp.Root())
	assert.Equal(t, 1, rp.Height())

	img, err = fs.ReadPage(pages.NewPageID(42, pages.CategoryHeader, 1))
	require.NoError(t, err)
	p, err = pages.Deserialize(pages.NewPageID(42, pages.CategoryHeader, 1), img, nil)
	require.NoError(t, err)
	free, ok := p.(*pages.HeaderPage).FirstFree()
	assert.True(t, ok)
	assert.Equal(t, uint32(3), free)

	img, err = fs.ReadPage(pages.NewPageID(42, pages.CategoryLeaf, 2))
	require.NoError(t, err)
	p, err = pages.Deserialize(pages.NewPageID(42, pages.CategoryLeaf, 2), img, layout)
	require.NoError(t, err)
	assert.Equal(t, 0, p.(*pages.LeafPage).NumTuples())

	assert.Error(t, fs.Create(layout))
}

func TestFileSetReadWrite(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSet(dir)
	layout := testLayout(t, 9)
	require.NoError(t, fs.Create(layout))

	pid := pages.NewPageID(9, pages.CategoryLeaf, 5)
	_, err := fs.ReadPage(pid)
	assert.True(t, errors.Is(err, basic.ErrPageNotFound))

	leaf := pages.NewLeafPage(pid, layout, 0)
	leaf.InsertTuple(basic.IntTuple(1, 2))
	require.NoError(t, fs.WritePage(pid, pages.Serialize(leaf)))
	require.NoError(t, fs.Sync())
	require.NoError(t, fs.Close())

	// a fresh set opens the file lazily
	fs = NewFileSet(dir)
	defer fs.Close()
	buf := make([]byte, pages.PageSize)
	require.NoError(t, fs.ReadPageInto(pid, buf))
	p, err := pages.Deserialize(pid, buf, layout)
	require.NoError(t, err)
	assert.True(t, p.(*pages.LeafPage).Tuple(0).Equal(basic.IntTuple(1, 2)))

	// the hole between page 2 and page 5 reads as zeros and fails the checksum
	hole := pages.NewPageID(9, pages.CategoryLeaf, 4)
	require.NoError(t, fs.ReadPageInto(hole, buf))
	_, err = pages.Deserialize(hole, buf, layout)
	assert.True(t, basic.IsCorruption(err))
}

func TestFileSetMissingTable(t *testing.T) {
	fs := NewFileSet(t.TempDir())
	_, err := fs.ReadPage(pages.RootPointerID(1))
	assert.True(t, errors.Is(err, basic.ErrPageNotFound))
	assert.NoError(t, fs.Sync(1))
}

func TestTruncatedPage(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSet(dir)
	require.NoError(t, fs.Create(testLayout(t, 3)))
	require.NoError(t, fs.Close())

	path := filepath.Join(dir, FileName(3))
	require.NoError(t, os.Truncate(path, 2*pages.PageSize+100))

	fs = NewFileSet(dir)
	defer fs.Close()
	_, err := fs.ReadPage(pages.NewPageID(3, pages.CategoryLeaf, 2))
	assert.True(t, basic.IsCorruption(err))
}
