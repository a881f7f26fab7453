package chc

import (
	"context"
	"os"

	"github.com/omalloc/blockcache/internal/sidecar"
	"github.com/omalloc/blockcache/internal/urlhash"
)

// Purge hard-evicts url's cached entry, if any (spec's supplemented Purge,
// mirroring the teacher's storage.PURGE(storeUrl, PurgeControl{Hard: true})
// single-object delete). A URL with no cached entry is not an error.
func (c *CHC) Purge(ctx context.Context, url string) error {
	c.lfc.EvictKey(urlhash.Hash(url))
	return nil
}

// PurgeExpired sweeps every resident entry and hard-evicts those that
// defaultCheckCache rejects, i.e. whose stored headers forbid storing the
// response (for example no-store or private); max-age/Expires expiry is not
// checked (spec's supplemented PurgeExpired, mirroring the teacher's
// storage.PURGE(..., PurgeControl{MarkExpired: true}) bulk pass, simplified
// to a single hard delete rather than a soft expired-mark since this cache
// has no "expired but retained" entry state). It reuses the same
// predicate as GetFile's default check_cache
// (defaultCheckCache), keyed per-entry by the URL recorded in its sidecar
// rather than by a caller-supplied URL. Entries whose sidecar cannot be
// read or parsed are treated as expired, since a cache with no usable
// headers cannot prove itself fresh. Returns the number of entries evicted.
func (c *CHC) PurgeExpired(ctx context.Context) (int, error) {
	evicted := 0
	for _, key := range c.lfc.Keys() {
		raw, err := os.ReadFile(c.lfc.SidecarPath(key))
		if err != nil {
			c.lfc.EvictKey(key)
			evicted++
			continue
		}

		hdr, _, err := sidecar.DecodeHeader(raw)
		if err != nil {
			c.lfc.EvictKey(key)
			evicted++
			continue
		}

		if defaultCheckCache(hdr.URL)(hdr.Headers) {
			continue
		}

		c.lfc.EvictKey(key)
		evicted++
	}
	return evicted, nil
}
