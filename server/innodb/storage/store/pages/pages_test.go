package pages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

func testLayout(t *testing.T, leafCap, internalCap int) *TableLayout {
	schema := basic.NewSchema(
		basic.Field{Name: "id", Type: basic.IntType(), IsPrimary: true},
		basic.Field{Name: "name", Type: basic.CharType(16)},
	)
	layout, err := NewTableLayout(7, schema, 0, leafCap, internalCap)
	require.NoError(t, err)
	return layout
}

func row(id int64, name string) *basic.Tuple {
	return basic.NewTuple(basic.IntCell(id), basic.CharCell(name))
}

func TestLayoutCapacities(t *testing.T) {
	layout := testLayout(t, 0, 0)
	assert.Equal(t, (PayloadEnd-18)/24, layout.LeafCapacity)
	assert.Equal(t, (PayloadEnd-18)/12, layout.InternalCapacity)

	layout = testLayout(t, 4, 3)
	assert.Equal(t, 4, layout.LeafCapacity)
	assert.Equal(t, 3, layout.InternalCapacity)
	assert.Equal(t, 2, layout.MinLeafOccupancy())
	assert.Equal(t, 1, layout.MinInternalOccupancy())

	layout = testLayout(t, 100000, 0)
	assert.Equal(t, PhysicalLeafCapacity(layout.Schema), layout.LeafCapacity)

	_, err := NewTableLayout(1, layout.Schema, 5, 0, 0)
	assert.True(t, errors.Is(err, basic.ErrSchemaMismatch))

	wide := basic.NewSchema(basic.Field{Name: "blob", Type: basic.CharType(3000)})
	_, err = NewTableLayout(1, wide, 0, 0, 0)
	assert.True(t, errors.Is(err, basic.ErrSchemaMismatch))
}

func TestPageIDString(t *testing.T) {
	pid := NewPageID(1, CategoryLeaf, 3)
	assert.Equal(t, "t1/leaf/3", pid.String())
	assert.Equal(t, Location{TableID: 1, Index: 3}, pid.Location())
	assert.Equal(t, NewPageID(9, CategoryRootPointer, 0), RootPointerID(9))
}

func TestRoundTrip(t *testing.T) {
	layout := testLayout(t, 4, 3)

	t.Run("root pointer", func(t *testing.T) {
		p := NewRootPointerPage(7)
		p.SetRoot(NewPageID(7, CategoryInternal, 12))
		p.SetHeight(3)
		img := Serialize(p)
		require.Len(t, img, PageSize)

		got, err := Deserialize(p.ID(), img, nil)
		require.NoError(t, err)
		rp := got.(*RootPointerPage)
		assert.Equal(t, p.Root(), rp.Root())
		assert.Equal(t, 3, rp.Height())
		assert.Equal(t, NewPageID(7, CategoryHeader, FirstHeaderIndex), rp.HeaderID())
		assert.Equal(t, img, Serialize(rp))
	})

	t.Run("internal", func(t *testing.T) {
		p := NewInternalPage(NewPageID(7, CategoryInternal, 5), layout, 9, CategoryLeaf)
		p.SetEntries([]basic.Cell{basic.IntCell(10), basic.IntCell(20)}, []uint32{3, 4, 6}, CategoryLeaf)
		img := Serialize(p)

		got, err := Deserialize(p.ID(), img, layout)
		require.NoError(t, err)
		ip := got.(*InternalPage)
		assert.Equal(t, uint32(9), ip.ParentIndex())
		assert.Equal(t, 2, ip.NumKeys())
		assert.Equal(t, []uint32{3, 4, 6}, ip.ChildIndexes())
		assert.Equal(t, NewPageID(7, CategoryLeaf, 4), ip.Child(1))
		assert.True(t, ip.Key(1).Equal(basic.IntCell(20)))
		assert.Equal(t, img, Serialize(ip))
	})

	t.Run("leaf", func(t *testing.T) {
		p := NewLeafPage(NewPageID(7, CategoryLeaf, 4), layout, 5)
		p.SetLeftIndex(3)
		p.SetRightIndex(6)
		p.InsertTuple(row(2, "b"))
		p.InsertTuple(row(1, "a"))
		p.InsertTuple(row(2, "c"))
		img := Serialize(p)

		got, err := Deserialize(p.ID(), img, layout)
		require.NoError(t, err)
		lp := got.(*LeafPage)
		require.Equal(t, 3, lp.NumTuples())
		for i := 0; i < 3; i++ {
			assert.True(t, p.Tuple(i).Equal(lp.Tuple(i)))
		}
		left, ok := lp.Left()
		assert.True(t, ok)
		assert.Equal(t, uint32(3), left.Index)
		assert.Equal(t, uint32(6), lp.RightIndex())
		assert.Equal(t, img, Serialize(lp))
	})

	t.Run("leaf char values", func(t *testing.T) {
		p := NewLeafPage(NewPageID(7, CategoryLeaf, 8), layout, 5)
		names := []string{"", "sixteen-bytes-xx", "trailing space ", "\xff\x01"}
		for i, name := range names {
			tup := row(int64(i), name)
			require.NoError(t, tup.Conforms(layout.Schema), "%q", name)
			p.InsertTuple(tup)
		}
		got, err := Deserialize(p.ID(), Serialize(p), layout)
		require.NoError(t, err)
		lp := got.(*LeafPage)
		require.Equal(t, len(names), lp.NumTuples())
		for i := range names {
			assert.True(t, p.Tuple(i).Equal(lp.Tuple(i)), "slot %d: %s vs %s", i, p.Tuple(i), lp.Tuple(i))
		}

		// a NUL would be eaten by the zero padding, such tuples never reach a page
		assert.True(t, errors.Is(row(9, "ab\x00").Conforms(layout.Schema), basic.ErrSchemaMismatch))
	})

	t.Run("header", func(t *testing.T) {
		p := NewHeaderPage(NewPageID(7, CategoryHeader, 1), 0)
		for _, i := range []uint32{0, 1, 2, 9} {
			p.MarkUsed(i)
		}
		p.SetNextIndex(SlotsPerHeader)
		img := Serialize(p)

		got, err := Deserialize(p.ID(), img, nil)
		require.NoError(t, err)
		hp := got.(*HeaderPage)
		assert.Equal(t, 4, hp.UsedCount())
		assert.True(t, hp.IsUsed(9))
		free, ok := hp.FirstFree()
		assert.True(t, ok)
		assert.Equal(t, uint32(3), free)
		next, ok := hp.Next()
		assert.True(t, ok)
		assert.Equal(t, uint32(SlotsPerHeader), next.Index)
		assert.Equal(t, img, Serialize(hp))
	})
}

func TestDeserializeCorruption(t *testing.T) {
	layout := testLayout(t, 4, 3)
	p := NewLeafPage(NewPageID(7, CategoryLeaf, 4), layout, 0)
	p.InsertTuple(row(1, "a"))
	img := Serialize(p)

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		bad[30] ^= 0xFF
		_, err := Deserialize(p.ID(), bad, layout)
		assert.True(t, basic.IsCorruption(err))
	})
	t.Run("short image", func(t *testing.T) {
		_, err := Deserialize(p.ID(), img[:100], layout)
		assert.True(t, basic.IsCorruption(err))
	})
	t.Run("wrong category", func(t *testing.T) {
		_, err := Deserialize(NewPageID(7, CategoryInternal, 4), img, layout)
		assert.True(t, basic.IsCorruption(err))
	})
	t.Run("zero page", func(t *testing.T) {
		_, err := Deserialize(p.ID(), make([]byte, PageSize), layout)
		assert.True(t, basic.IsCorruption(err))
	})
}

func TestLeafOrdering(t *testing.T) {
	layout := testLayout(t, 8, 3)
	p := NewLeafPage(NewPageID(7, CategoryLeaf, 2), layout, 0)
	for _, id := range []int64{5, 3, 8, 3, 1} {
		p.InsertTuple(row(id, "x"))
	}
	var keys []int64
	for i := 0; i < p.NumTuples(); i++ {
		keys = append(keys, p.Key(i).Int())
	}
	assert.Equal(t, []int64{1, 3, 3, 5, 8}, keys)
	assert.Equal(t, 1, p.LowerBound(basic.IntCell(3)))
	assert.Equal(t, 3, p.InsertPosition(basic.IntCell(3)))
	assert.Equal(t, 5, p.LowerBound(basic.IntCell(9)))

	p.RemoveTuple(0)
	assert.Equal(t, int64(3), p.Key(0).Int())
}

func TestInternalEntries(t *testing.T) {
	layout := testLayout(t, 4, 4)
	p := NewInternalPage(NewPageID(7, CategoryInternal, 3), layout, 0, CategoryLeaf)
	p.SetEntries([]basic.Cell{basic.IntCell(10)}, []uint32{4, 5}, CategoryLeaf)
	p.InsertEntry(1, basic.IntCell(20), 6)
	p.InsertEntry(0, basic.IntCell(5), 7)
	assert.Equal(t, []uint32{4, 7, 5, 6}, p.ChildIndexes())
	assert.Equal(t, 0, p.ChildFor(basic.IntCell(5)))
	assert.Equal(t, 1, p.ChildFor(basic.IntCell(6)))
	assert.Equal(t, 3, p.ChildFor(basic.IntCell(21)))
	assert.Equal(t, 2, p.ChildPosition(5))

	p.RemoveEntry(1)
	assert.Equal(t, []uint32{4, 7, 6}, p.ChildIndexes())
	assert.Equal(t, 2, p.NumKeys())
	assert.True(t, p.Key(1).Equal(basic.IntCell(20)))
}

func TestBeforeImageAndPins(t *testing.T) {
	layout := testLayout(t, 4, 3)
	p := NewLeafPage(NewPageID(7, CategoryLeaf, 2), layout, 0)
	assert.Nil(t, p.BeforeImage())
	p.SetBeforeImage()
	clean := p.BeforeImage()

	p.InsertTuple(row(1, "a"))
	p.MarkDirty(3)
	assert.True(t, p.IsDirty())
	assert.Equal(t, basic.TxID(3), p.Dirtier())
	assert.Equal(t, clean, p.BeforeImage())

	p.SetBeforeImage()
	p.MarkClean()
	assert.NotEqual(t, clean, p.BeforeImage())
	assert.False(t, p.IsDirty())

	p.Pin()
	p.Pin()
	p.Unpin()
	assert.Equal(t, int32(1), p.PinCount())
	p.Unpin()
	p.Unpin()
	assert.Equal(t, int32(0), p.PinCount())
}
