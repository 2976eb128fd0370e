package basic

import "fmt"

// TxID identifies a transaction. Ids are never reused within one process.
type TxID uint64

func (id TxID) String() string {
	return fmt.Sprintf("tx_%d", uint64(id))
}

// Permission is the access a caller asks the buffer pool for.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "ReadWrite"
	}
	return "ReadOnly"
}
