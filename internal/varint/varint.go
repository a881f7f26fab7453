// Package varint implements the tagged size encoding shared by the LFC
// sidecar format and the portable binary message codec (spec §3.4, §6.4):
//
//	0..=253   -> single byte v
//	254       -> tag byte 254, then a little-endian u16
//	255       -> tag byte 255, then a little-endian u32
//
// It encodes sizes in [0, 2^32) and is the cursor-based reader/writer the
// rest of the sidecar/index codecs are built on, in the spirit of the
// teacher's pkg/iobuf readers (a single cursor advanced by each decode
// call) but specialized to the fixed tagged-varint/string/byte grammar
// spec §4.1 requires.
package varint

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBufferUnderrun is returned when a decode call needs more bytes than remain.
var ErrBufferUnderrun = errors.New("varint: buffer underrun")

// ErrMalformed is returned when a decoded value is internally inconsistent
// (e.g. a string length prefix exceeding the remaining buffer).
var ErrMalformed = errors.New("varint: malformed value")

const (
	tag16 = 254
	tag32 = 255
)

// EncodeSize appends the varint encoding of n to dst and returns the result.
func EncodeSize(dst []byte, n uint32) []byte {
	switch {
	case n <= 253:
		return append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, tag16)
		return binary.LittleEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, tag32)
		return binary.LittleEndian.AppendUint32(dst, n)
	}
}

// SizeLen returns the number of bytes EncodeSize(nil, n) would produce.
func SizeLen(n uint32) int {
	switch {
	case n <= 253:
		return 1
	case n <= 0xFFFF:
		return 3
	default:
		return 5
	}
}

// DecodeSize reads a varint-encoded size from buf starting at off, returning
// the value and the number of bytes consumed.
func DecodeSize(buf []byte, off int) (uint32, int, error) {
	if off >= len(buf) {
		return 0, 0, ErrBufferUnderrun
	}
	tag := buf[off]
	switch {
	case tag < tag16:
		return uint32(tag), 1, nil
	case tag == tag16:
		if off+3 > len(buf) {
			return 0, 0, ErrBufferUnderrun
		}
		return uint32(binary.LittleEndian.Uint16(buf[off+1 : off+3])), 3, nil
	default: // tag32
		if off+5 > len(buf) {
			return 0, 0, ErrBufferUnderrun
		}
		return binary.LittleEndian.Uint32(buf[off+1 : off+5]), 5, nil
	}
}

// Writer accumulates a buffer using the codec's primitives.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with cap bytes pre-reserved.
func NewWriter(cap int) *Writer {
	return &Writer{buf: make([]byte, 0, cap)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutU16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) PutU32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) PutU64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// PutSize writes n using the §3.4 tagged-varint encoding.
func (w *Writer) PutSize(n uint32) { w.buf = EncodeSize(w.buf, n) }

// PutBytes writes raw bytes with no length prefix.
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutString writes a varint-length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutSize(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader decodes values from a fixed buffer using a monotonically advancing cursor.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding from offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read cursor, i.e. the number of bytes consumed so far.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrBufferUnderrun
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Size reads a §3.4 tagged varint.
func (r *Reader) Size() (uint32, error) {
	n, consumed, err := DecodeSize(r.buf, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += consumed
	return n, nil
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrMalformed
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// String reads a varint-length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.Size()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", fmt.Errorf("%w: string of declared length %d: %v", ErrMalformed, n, err)
	}
	return string(b), nil
}
