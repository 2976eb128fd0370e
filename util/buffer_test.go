package util

import (
	"testing"

	"github.com/smartystreets/assertions"
)

func TestWriteReadRoundTrip(t *testing.T) {
	assert := assertions.New(t)

	buf := make([]byte, 0, 64)
	buf = WriteUB2(buf, 0xBEEF)
	buf = WriteUB4(buf, 0xDEADBEEF)
	buf = WriteUB8(buf, 0x0102030405060708)
	buf = WriteWithLength(buf, []byte("abc"))
	buf = WriteFixed(buf, []byte("xy"), 4)

	assert.So(buf[:2], assertions.ShouldResemble, []byte{0xBE, 0xEF})

	cursor, v2 := ReadUB2(buf, 0)
	assert.So(v2, assertions.ShouldEqual, uint16(0xBEEF))
	cursor, v4 := ReadUB4(buf, cursor)
	assert.So(v4, assertions.ShouldEqual, uint32(0xDEADBEEF))
	cursor, v8 := ReadUB8(buf, cursor)
	assert.So(v8, assertions.ShouldEqual, uint64(0x0102030405060708))
	cursor, data, err := ReadWithLength(buf, cursor)
	assert.So(err, assertions.ShouldBeNil)
	assert.So(string(data), assertions.ShouldEqual, "abc")
	_, fixed := ReadBytes(buf, cursor, 4)
	assert.So(string(TrimZero(fixed)), assertions.ShouldEqual, "xy")
}

func TestReadWithLengthShort(t *testing.T) {
	assert := assertions.New(t)
	buf := WriteUB4(nil, 10)
	_, _, err := ReadWithLength(buf, 0)
	assert.So(err, assertions.ShouldEqual, ErrShortBuffer)
}

func TestPutUB4(t *testing.T) {
	assert := assertions.New(t)
	buf := make([]byte, 8)
	PutUB4(buf, 2, 7)
	assert.So(ReadUB4Byte2UInt32(buf[2:]), assertions.ShouldEqual, uint32(7))
	assert.So(ConvertUInt4Bytes(7), assertions.ShouldResemble, buf[2:6])
}
