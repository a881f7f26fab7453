package chc

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/codec"
	"github.com/omalloc/blockcache/internal/urlhash"
	"github.com/omalloc/blockcache/internal/varint"
)

// jsonMagic is "json" read as a little-endian u32 (spec §6.3).
const jsonMagic = 0x6E6F736A

// GetAsJSON wraps GetFile, caching a binary-normalized form of the JSON
// response (spec §4.4 "get_as_json", §6.3): on first fetch the network
// bytes are parsed as textual JSON, re-encoded with the portable binary
// codec, and the data file is rewritten as magic||binary; later calls
// detect the magic and skip the textual parse entirely. The rewrite calls
// lfc.Update so the LRU's byte accounting reflects the rewritten size
// immediately rather than drifting until the next GetFile-triggered update.
func (c *CHC) GetAsJSON(ctx context.Context, url string, opts ...GetFileOption) (any, error) {
	path, downloaded, err := c.GetFile(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cacheerr.NewIOError("read", path, err)
	}

	if !downloaded && len(raw) >= 4 && binary.LittleEndian.Uint32(raw[:4]) == jsonMagic {
		v, err := codec.DecodeBytes(raw[4:])
		if err != nil {
			return nil, err
		}
		return codec.ToAny(v), nil
	}

	value, err := codec.FromJSONBytes(raw)
	if err != nil {
		return nil, err
	}

	w := varint.NewWriter(len(raw))
	w.PutU32(jsonMagic)
	codec.Encode(w, value)
	if err := os.WriteFile(path, w.Bytes(), 0o644); err != nil {
		return nil, cacheerr.NewIOError("write", path, err)
	}
	if err := c.lfc.Update(urlhash.Hash(url), path); err != nil {
		return nil, err
	}

	return codec.ToAny(value), nil
}
