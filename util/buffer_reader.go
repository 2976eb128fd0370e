package util

import "errors"

// ErrShortBuffer is returned by the checked readers when the cursor runs past the end.
var ErrShortBuffer = errors.New("buffer too short")

func ReadBytes(buff []byte, cursor int, offset int) (int, []byte) {
	if offset <= 0 {
		return cursor, nil
	}
	return cursor + offset, buff[cursor : cursor+offset]
}

func ReadByte(buff []byte, cursor int) (int, byte) {
	return cursor + 1, buff[cursor]
}

func ReadUB2(buff []byte, cursor int) (int, uint16) {
	i := uint16(buff[cursor]) << 8
	i |= uint16(buff[cursor+1])
	return cursor + 2, i
}

func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor]) << 24
	i |= uint32(buff[cursor+1]) << 16
	i |= uint32(buff[cursor+2]) << 8
	i |= uint32(buff[cursor+3])
	return cursor + 4, i
}

func ReadUB8(buff []byte, cursor int) (int, uint64) {
	cursor, hi := ReadUB4(buff, cursor)
	cursor, lo := ReadUB4(buff, cursor)
	return cursor, uint64(hi)<<32 | uint64(lo)
}

// ReadWithLength reads a block written by WriteWithLength. The returned slice aliases buff.
func ReadWithLength(buff []byte, cursor int) (int, []byte, error) {
	if cursor+4 > len(buff) {
		return cursor, nil, ErrShortBuffer
	}
	cursor, n := ReadUB4(buff, cursor)
	if cursor+int(n) > len(buff) {
		return cursor, nil, ErrShortBuffer
	}
	cursor, data := ReadBytes(buff, cursor, int(n))
	return cursor, data, nil
}

// TrimZero drops the trailing zero padding written by WriteFixed.
func TrimZero(buff []byte) []byte {
	end := len(buff)
	for end > 0 && buff[end-1] == 0 {
		end--
	}
	return buff[:end]
}

func ReadUB4Byte2UInt32(buff []byte) uint32 {
	_, i := ReadUB4(buff, 0)
	return i
}
