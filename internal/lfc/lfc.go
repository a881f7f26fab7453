// Package lfc implements the LRU File Cache (spec §2 component B, §3.2,
// §4.2): a durable, bounded, least-recently-used cache keyed by a 64-bit
// URL hash, backed by an append-only 24-byte-record index file that
// survives crashes and is rebuilt from disk on open.
//
// Grounded on the teacher's storage/bucket/disk/disk.go open/evict/loadLRU
// shape (goroutine-driven eviction channel, ratecounter-timed progress
// logging during the initial scan) adapted to this spec's bit-exact index
// format in place of the teacher's pebble-backed indexdb.
//
// Per spec §9's "reentrant locks" redesign note, every exported method
// that touches the index or LRU state is lock-acquiring; they delegate to
// unexported, lock-assuming helpers (suffixed Locked) so internal call
// chains never re-enter mu. The path helpers (DataPath, SidecarPath, Dir)
// read only the immutable dir and take no lock.
package lfc

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/blockcache/contrib/log"
	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/urlhash"
)

// DefaultMaxSize is the default byte budget for the CHC-owned LFC (spec §6.7).
const DefaultMaxSize = 200 << 20

// entry is the in-memory bookkeeping for one live key, held as a
// container/list element's Value so list order doubles as LRU order
// (front = least-recently-used, back = most-recently-used).
type entry struct {
	key   uint64
	slot  int64
	size  uint64
	mtime uint64
}

// LFC is a durable LRU cache over (key -> data file, sidecar file) pairs.
type LFC struct {
	dir     string
	maxSize uint64

	mu          sync.Mutex
	indexFile   *os.File
	order       *list.List
	byKey       map[uint64]*list.Element
	free        map[int64]struct{}
	maxPosition int64
	size        uint64
}

// Open creates dir if missing, opens its index file (creating it if
// absent), and rebuilds in-memory LRU state by scanning the index
// end-to-end (spec §4.2 "Open algorithm").
func Open(dir string, maxSize uint64) (*LFC, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cacheerr.NewIOError("mkdir", dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "index"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, cacheerr.NewIOError("open", dir, err)
	}

	c := &LFC{
		dir:       dir,
		maxSize:   maxSize,
		indexFile: f,
		order:     list.New(),
		byKey:     make(map[uint64]*list.Element),
		free:      make(map[int64]struct{}),
	}

	if err := c.loadLocked(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return c, nil
}

type scanned struct {
	rec  record
	slot int64
}

func (c *LFC) loadLocked() error {
	info, err := c.indexFile.Stat()
	if err != nil {
		return cacheerr.NewIOError("stat", c.dir, err)
	}

	counter := ratecounter.NewRateCounter(time.Second)
	log.Infof("lfc: scanning index %s (%d bytes)", c.dir, info.Size())

	buf := make([]byte, recordSize)
	var live []scanned
	var off int64

	for {
		n, err := c.indexFile.ReadAt(buf, off)
		if n < recordSize {
			if errors.Is(err, os.ErrClosed) {
				return cacheerr.NewIOError("read", c.dir, err)
			}
			break // short/partial trailing record: truncated index, stop here
		}
		rec := decodeRecord(buf)
		if rec.size > 0 {
			live = append(live, scanned{rec: rec, slot: off})
			counter.Incr(1)
		} else {
			c.free[off] = struct{}{}
		}
		off += recordSize
	}

	c.maxPosition = off

	// Sort by time ascending so insertion order becomes LRU order
	// (least-recent first). Insertion sort is adequate: index files are
	// bounded by the cache's own eviction policy, not unbounded growth.
	for i := 1; i < len(live); i++ {
		j := i
		for j > 0 && live[j-1].rec.time > live[j].rec.time {
			live[j-1], live[j] = live[j], live[j-1]
			j--
		}
	}

	for _, s := range live {
		el := c.order.PushBack(&entry{key: s.rec.key, slot: s.slot, size: s.rec.size, mtime: s.rec.time})
		c.byKey[s.rec.key] = el
		c.size += s.rec.size
	}

	log.Infof("lfc: loaded %d live entries, %d free slots, %d bytes (%d/s)", len(live), len(c.free), c.size, counter.Rate())
	return nil
}

// Close flushes and closes the index file, dropping in-memory state.
func (c *LFC) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *LFC) closeLocked() error {
	if c.indexFile == nil {
		return nil
	}
	err := c.indexFile.Close()
	c.indexFile = nil
	c.order = list.New()
	c.byKey = make(map[uint64]*list.Element)
	c.free = make(map[int64]struct{})
	c.size = 0
	c.maxPosition = 0
	if err != nil {
		return cacheerr.NewIOError("close", c.dir, err)
	}
	return nil
}

// Clear closes, recursively deletes the cache directory, then reopens it.
func (c *LFC) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		return err
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return cacheerr.NewIOError("rmdir", c.dir, err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return cacheerr.NewIOError("mkdir", c.dir, err)
	}

	f, err := os.OpenFile(filepath.Join(c.dir, "index"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return cacheerr.NewIOError("open", c.dir, err)
	}
	c.indexFile = f
	return c.loadLocked()
}

// DataPath returns the data-file path for key (spec's `<key-in-hex>`).
func (c *LFC) DataPath(key uint64) string {
	return filepath.Join(c.dir, urlhash.Hex(key))
}

// SidecarPath returns the sidecar path for key (spec's `<key-in-hex>.i`).
func (c *LFC) SidecarPath(key uint64) string {
	return c.DataPath(key) + ".i"
}

// GetFile returns the data-file path for key, whether or not it exists on
// disk. If key is resident, it is marked most-recently-used and its
// stored time field is rewritten with the current wall-clock millis
// (spec §4.2).
func (c *LFC) GetFile(key uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		e := el.Value.(*entry)
		now := uint64(time.Now().UnixMilli())
		e.mtime = now
		rec := record{key: e.key, size: e.size, time: now}
		buf := rec.encode()
		if _, err := c.indexFile.WriteAt(buf[:], e.slot); err != nil {
			return "", cacheerr.NewIOError("write", c.dir, err)
		}
		c.order.MoveToBack(el)
	}

	return c.DataPath(key), nil
}

// Update recomputes the on-disk size for key from dataPath (+ its
// sidecar), inserts or replaces the entry, evicting least-recently-used
// entries until the running total fits max_size, then persists
// {key, size, time=file_mtime_ms} into the entry's slot (spec §4.2
// "Eviction" / "Invariant enforcement").
//
// The wall-clock `time` recorded is the data file's mtime, not the time of
// this call; a filesystem with unreliable mtimes can therefore reorder the
// LRU on the next Open (spec §9 caveat, preserved as specified).
func (c *LFC) Update(key uint64, dataPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataInfo, dataErr := os.Stat(dataPath)
	sidecarInfo, sidecarErr := os.Stat(c.SidecarPath(key))

	var size uint64
	var mtime uint64
	if dataErr == nil {
		size += uint64(dataInfo.Size())
		mtime = uint64(dataInfo.ModTime().UnixMilli())
	}
	if sidecarErr == nil {
		size += uint64(sidecarInfo.Size())
	}

	slot := int64(-1)
	if el, ok := c.byKey[key]; ok {
		old := el.Value.(*entry)
		c.size -= old.size
		slot = old.slot
		c.order.Remove(el)
		delete(c.byKey, key)
	}

	for c.size+size > c.maxSize && c.order.Len() > 0 {
		c.evictOldestLocked()
	}

	if slot < 0 {
		slot = c.allocSlotLocked()
	}
	rec := record{key: key, size: size, time: mtime}
	buf := rec.encode()
	if _, err := c.indexFile.WriteAt(buf[:], slot); err != nil {
		return cacheerr.NewIOError("write", c.dir, err)
	}

	el := c.order.PushBack(&entry{key: key, slot: slot, size: size, mtime: mtime})
	c.byKey[key] = el
	c.size += size

	return nil
}

// evictOldestLocked removes the least-recently-used live entry (spec §4.2
// "Eviction").
func (c *LFC) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.evictElementLocked(front)
}

// evictElementLocked tombstones el's slot, frees it for reuse, drops it
// from the LRU list, and best-effort deletes its data and sidecar files.
// I/O errors on delete are swallowed (spec §4.2 Failure, §7 IoError policy
// for eviction). Shared by the LRU-front path (evictOldestLocked) and
// single-key eviction (EvictKey).
func (c *LFC) evictElementLocked(el *list.Element) {
	e := el.Value.(*entry)

	tomb := record{key: e.key, size: 0, time: 0}
	buf := tomb.encode()
	if _, err := c.indexFile.WriteAt(buf[:], e.slot); err != nil {
		log.Warnf("lfc: failed to tombstone slot %d for key %016x: %v", e.slot, e.key, err)
	}

	c.free[e.slot] = struct{}{}
	c.order.Remove(el)
	delete(c.byKey, e.key)
	c.size -= e.size

	_ = os.Remove(c.DataPath(e.key))
	_ = os.Remove(c.SidecarPath(e.key))

	log.Debugf("lfc: evicted key %016x, freed %d bytes", e.key, e.size)
}

// EvictKey hard-evicts key if resident, tombstoning its index slot and
// best-effort deleting its data and sidecar files (spec's supplemented
// Purge, adapted from the teacher's storage.PURGE single-object hard
// delete). Reports whether key was resident.
func (c *LFC) EvictKey(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return false
	}
	c.evictElementLocked(el)
	return true
}

// Keys returns every resident key, in LRU order (least-recently-used
// first). Used by PurgeExpired to sweep the cache for stale entries.
func (c *LFC) Keys() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]uint64, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// allocSlotLocked pops a free slot if one exists, else appends at
// max_position and advances it (spec §4.2 "Slot allocation").
func (c *LFC) allocSlotLocked() int64 {
	for off := range c.free {
		delete(c.free, off)
		return off
	}
	slot := c.maxPosition
	c.maxPosition += recordSize
	return slot
}

// Size returns the current accounted byte total (Σ live record sizes).
func (c *LFC) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Dir returns the cache root directory.
func (c *LFC) Dir() string { return c.dir }

// String implements fmt.Stringer for diagnostics.
func (c *LFC) String() string {
	return fmt.Sprintf("lfc(%s, size=%d/%d)", c.dir, c.Size(), c.maxSize)
}
