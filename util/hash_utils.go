package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// Checksum32 is the checksum stored in page trailers and log frames.
func Checksum32(data []byte) uint32 {
	return xxhash.Checksum32(data)
}

// NameID maps a table name to its stable 32-bit identifier.
func NameID(name string) uint32 {
	return xxhash.Checksum32([]byte(name))
}
