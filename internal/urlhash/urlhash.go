// Package urlhash implements the deterministic URL-to-key hash (spec §3.1)
// used as the LFC index key, and its fixed-width hex form, which names each
// data file directly in the cache directory (no subdirectory sharding).
package urlhash

import "fmt"

// Hash folds a URL into a 64-bit key: starting with h = 0, for each byte b
// of the URL, h = h*31 + (b - 32). The URL is assumed to be printable ASCII;
// callers outside that range still get a deterministic (if less meaningful)
// result since the subtraction and multiply wrap in uint64 arithmetic.
func Hash(url string) uint64 {
	var h uint64
	for i := 0; i < len(url); i++ {
		h = h*31 + uint64(int64(url[i])-32)
	}
	return h
}

// Hex renders a key as the lowercase fixed-width hex string used for the
// `<key-in-hex>` data file and `<key-in-hex>.i` sidecar names (spec §3.2).
func Hex(key uint64) string {
	return fmt.Sprintf("%016x", key)
}
