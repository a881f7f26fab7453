package lfc

import "encoding/binary"

// recordSize is the fixed width of one index slot (spec §3.2/§6.2): a
// little-endian {key u64, size u64, time u64} triple. size == 0 marks a
// tombstone; its slot is reusable.
const recordSize = 24

type record struct {
	key  uint64
	size uint64
	time uint64
}

func (r record) encode() [recordSize]byte {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], r.key)
	binary.LittleEndian.PutUint64(buf[8:16], r.size)
	binary.LittleEndian.PutUint64(buf[16:24], r.time)
	return buf
}

func decodeRecord(buf []byte) record {
	return record{
		key:  binary.LittleEndian.Uint64(buf[0:8]),
		size: binary.LittleEndian.Uint64(buf[8:16]),
		time: binary.LittleEndian.Uint64(buf[16:24]),
	}
}
