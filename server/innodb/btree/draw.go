package btree

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// DrawTree 打印树结构, down to depth levels below the root; depth < 0 draws
// everything.
//
//	orders height=2 root=t7/internal/3
//	└── internal 3 keys=[3]
//	    ├── leaf 2 [1..3] 3 tuples
//	    └── leaf 4 [4..6] 3 tuples
func (t *Table) DrawTree(tx *manager.Transaction, depth int) (string, error) {
	if err := checkActive(tx); err != nil {
		return "", err
	}
	done, err := t.enter(tx.ID, latch.Shared)
	if err != nil {
		return "", err
	}
	defer done()

	var root pages.PageID
	var height int
	err = t.readPage(tx.ID, t.rootPointerID(), func(p pages.Page) error {
		rp, err := asRootPointer(p)
		if err != nil {
			return err
		}
		root, height = rp.Root(), rp.Height()
		return nil
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s height=%d root=%s\n", t.name, height, root)
	if err := t.drawPage(tx, &sb, root, "", true, depth); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Table) drawPage(tx *manager.Transaction, sb *strings.Builder, pid pages.PageID, prefix string, last bool, depth int) error {
	branch, indent := "├── ", "│   "
	if last {
		branch, indent = "└── ", "    "
	}

	var children []pages.PageID
	err := t.readPage(tx.ID, pid, func(p pages.Page) error {
		switch page := p.(type) {
		case *pages.InternalPage:
			keys := make([]string, page.NumKeys())
			for i := range keys {
				keys[i] = page.Key(i).Text()
			}
			fmt.Fprintf(sb, "%s%sinternal %d keys=[%s]\n", prefix, branch, pid.Index, strings.Join(keys, " "))
			for i := 0; i < page.NumChildren(); i++ {
				children = append(children, page.Child(i))
			}
		case *pages.LeafPage:
			if page.NumTuples() == 0 {
				fmt.Fprintf(sb, "%s%sleaf %d (empty)\n", prefix, branch, pid.Index)
				return nil
			}
			fmt.Fprintf(sb, "%s%sleaf %d [%s..%s] %d tuples\n", prefix, branch, pid.Index,
				page.Key(0).Text(), page.Key(page.NumTuples()-1).Text(), page.NumTuples())
		default:
			fmt.Fprintf(sb, "%s%s%s\n", prefix, branch, pid)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if depth == 0 {
		if len(children) > 0 {
			fmt.Fprintf(sb, "%s%s...\n", prefix+indent, "└── ")
		}
		return nil
	}
	for i, child := range children {
		if err := t.drawPage(tx, sb, child, prefix+indent, i == len(children)-1, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// TupleCount scans the leaf level.
func (t *Table) TupleCount(tx *manager.Transaction) (int, error) {
	it, err := t.Search(tx, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// Height is the number of levels recorded in the root pointer page.
func (t *Table) Height(tx *manager.Transaction) (int, error) {
	if err := checkActive(tx); err != nil {
		return 0, err
	}
	done, err := t.enter(tx.ID, latch.Shared)
	if err != nil {
		return 0, err
	}
	defer done()

	height := 0
	err = t.readPage(tx.ID, t.rootPointerID(), func(p pages.Page) error {
		rp, err := asRootPointer(p)
		if err != nil {
			return err
		}
		height = rp.Height()
		return nil
	})
	return height, err
}
