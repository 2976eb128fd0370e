// Package util holds the byte-level helpers shared by the page and log codecs.
//
// All multi-byte integers are big-endian so that page and log images sort and
// dump the same way they are laid out on disk.
package util

func WriteByte(buf []byte, b byte) []byte {
	return append(buf, b)
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB2(buf []byte, i uint16) []byte {
	return append(buf, byte(i>>8), byte(i))
}

func WriteUB4(buf []byte, i uint32) []byte {
	return append(buf, byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = WriteUB4(buf, uint32(i>>32))
	return WriteUB4(buf, uint32(i))
}

// WriteWithLength writes a 4-byte length prefix followed by the bytes.
func WriteWithLength(buf []byte, from []byte) []byte {
	buf = WriteUB4(buf, uint32(len(from)))
	return append(buf, from...)
}

// WriteFixed writes from into exactly size bytes, zero padded or truncated.
func WriteFixed(buf []byte, from []byte, size int) []byte {
	if len(from) >= size {
		return append(buf, from[:size]...)
	}
	buf = append(buf, from...)
	return PadZero(buf, size-len(from))
}

// PadZero appends n zero bytes.
func PadZero(buf []byte, n int) []byte {
	for ; n > 0; n-- {
		buf = append(buf, 0)
	}
	return buf
}

// PutUB4 overwrites 4 bytes at offset.
func PutUB4(buf []byte, offset int, i uint32) {
	buf[offset] = byte(i >> 24)
	buf[offset+1] = byte(i >> 16)
	buf[offset+2] = byte(i >> 8)
	buf[offset+3] = byte(i)
}

func ConvertUInt4Bytes(i uint32) []byte {
	return WriteUB4(make([]byte, 0, 4), i)
}

func ConvertULong8Bytes(i uint64) []byte {
	return WriteUB8(make([]byte, 0, 8), i)
}
