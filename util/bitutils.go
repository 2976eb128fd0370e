package util

import "strings"

// BitSet reports whether bit n of the bitmap is set. Bit 0 is the high bit of byte 0.
func BitSet(bitmap []byte, n int) bool {
	return bitmap[n>>3]&(0x80>>uint(n&7)) != 0
}

func SetBit(bitmap []byte, n int) {
	bitmap[n>>3] |= 0x80 >> uint(n&7)
}

func ClearBit(bitmap []byte, n int) {
	bitmap[n>>3] &^= 0x80 >> uint(n&7)
}

// FirstClearBit returns the first unset bit at or after from, or -1.
func FirstClearBit(bitmap []byte, from int) int {
	total := len(bitmap) * 8
	for n := from; n < total; n++ {
		if bitmap[n>>3] == 0xFF {
			n |= 7
			continue
		}
		if !BitSet(bitmap, n) {
			return n
		}
	}
	return -1
}

// CountBits counts the set bits.
func CountBits(bitmap []byte) int {
	count := 0
	for _, b := range bitmap {
		for ; b != 0; b &= b - 1 {
			count++
		}
	}
	return count
}

// ToBinaryString renders a byte as eight 0/1 characters, high bit first.
func ToBinaryString(data byte) string {
	var sb strings.Builder
	for i := 7; i >= 0; i-- {
		if (data>>uint(i))&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
