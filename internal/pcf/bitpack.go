package pcf

import "github.com/kelindar/bitmap"

// blockSize is the fixed PCF block size (spec §3.3): 2^14 bytes. Changing
// it is a format break (spec §6.7).
const blockSize = 1 << 14

func blockIndex(pos int64) int64 { return pos >> 14 }
func blockStart(i int64) int64   { return i << 14 }

// packBitmap renders an in-memory bitmap.Bitmap as the packed little-endian
// byte array the sidecar stores (spec §3.3 field 5): bit i (LSB-first
// within each byte) set iff block i is present. blockCount bounds how many
// bits are meaningful; ceil(blockCount/8) bytes are produced. Used to write
// the sidecar's initial all-zero bitmap on open_origin, keeping the encode
// side symmetric with unpackBitmap rather than hand-rolling a zero slice;
// per-block updates afterward go through the narrower flushBitmapByteLocked.
func packBitmap(bm bitmap.Bitmap, blockCount int64) []byte {
	n := (blockCount + 7) / 8
	out := make([]byte, n)
	bm.Range(func(i uint32) {
		if int64(i) >= blockCount {
			return
		}
		out[i/8] |= 1 << (i % 8)
	})
	return out
}

// unpackBitmap reconstructs a runtime bitmap.Bitmap from the sidecar's
// packed byte array, ignoring any bits beyond blockCount (spec §6.1: tail
// bits are reserved and ignored on read).
func unpackBitmap(raw []byte, blockCount int64) bitmap.Bitmap {
	bm := bitmap.Bitmap{}
	for i := int64(0); i < blockCount; i++ {
		byteIdx := i / 8
		if byteIdx >= int64(len(raw)) {
			break
		}
		if raw[byteIdx]&(1<<(uint(i)%8)) != 0 {
			bm.Set(uint32(i))
		}
	}
	return bm
}
