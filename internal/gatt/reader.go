package gatt

import "encoding/binary"

// frameReader walks a little-endian characteristic value field by field.
// Every read checks the remaining length first and never advances past the
// end of buf; once a read fails the reader stays failed.
type frameReader struct {
	buf    []byte
	offset int
	failed bool
}

func newFrameReader(buf []byte) *frameReader {
	return &frameReader{buf: buf}
}

func (r *frameReader) take(n int) ([]byte, bool) {
	if r.failed || r.offset+n > len(r.buf) {
		r.failed = true
		return nil, false
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, true
}

func (r *frameReader) u8() (uint8, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *frameReader) u16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *frameReader) s16() (int16, bool) {
	v, ok := r.u16()
	return int16(v), ok
}

func (r *frameReader) u24() (uint32, bool) {
	b, ok := r.take(3)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, true
}

func (r *frameReader) u32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// remaining returns the number of unread bytes
func (r *frameReader) remaining() int {
	if r.failed {
		return 0
	}
	return len(r.buf) - r.offset
}

// ok reports whether every read so far succeeded
func (r *frameReader) ok() bool {
	return !r.failed
}
