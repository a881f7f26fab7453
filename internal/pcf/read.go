package pcf

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/xhttp"
)

// Read returns a stream covering exactly [start, end) bytes of the URL's
// content (spec §4.3 "Read algorithm"). The returned ReadCloser is a pull
// iterator: closing it cooperatively cancels the underlying fetch loop
// without corrupting the bitmap (bits are only ever set after their bytes
// have been written, spec §5 "Cancellation").
func (p *PCF) Read(ctx context.Context, start, end int64) io.ReadCloser {
	pr, pw := io.Pipe()
	closed := &atomic.Bool{}
	go func() {
		err := p.readLoop(ctx, start, end, pw, closed)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return &readStream{PipeReader: pr, closed: closed}
}

type readStream struct {
	*io.PipeReader
	closed *atomic.Bool
}

func (s *readStream) Close() error {
	s.closed.Store(true)
	return s.PipeReader.Close()
}

func (p *PCF) readLoop(ctx context.Context, start, end int64, w io.Writer, closed *atomic.Bool) error {
	i := blockIndex(start)
	pos := blockStart(i)
	buf := make([]byte, blockSize)

	for pos < end && !closed.Load() {
		// phase 1: serve the contiguous cached run starting at i.
		for i < p.blockCount && p.blockSet(i) && pos < end {
			n, rerr := p.dataFile.ReadAt(buf, pos)
			if n == 0 {
				if rerr != nil && rerr != io.EOF {
					return cacheerr.NewIOError("read", p.table.lfc.DataPath(p.key), rerr)
				}
				break
			}
			chunk := buf[:n]
			if err := writeSlice(w, chunk, start, end, pos); err != nil {
				return nil // reader closed downstream; not an error for the loop
			}
			pos += int64(n)
			i++
		}
		if pos >= end || closed.Load() {
			break
		}

		// phase 2: fetch a contiguous missing run [i, stopI).
		stopI := p.blockCount
		if nc := p.nextCachedIndex(i + 1); nc >= 0 && nc < stopI {
			stopI = nc
		}
		if b := blockIndex(end-1) + 1; b < stopI {
			stopI = b
		}
		stopPos := blockStart(stopI)
		if stopPos > p.dataLength {
			stopPos = p.dataLength
		}
		startPos := blockStart(i)
		pos = startPos

		stream, reused, err := p.openRangeStream(ctx, startPos, stopPos)
		if err != nil {
			return err
		}

		newPos, newI, werr := p.consumeRangeStream(stream, startPos, stopPos, start, end, i, pos, w, closed)
		if !reused {
			stream.Close()
		}
		pos, i = newPos, newI
		if werr != nil {
			return werr
		}
	}

	p.flushPendingBitmap()
	return nil
}

// writeSlice writes the portion of chunk (covering file bytes
// [filePos, filePos+len(chunk))) that overlaps [start, end).
func writeSlice(w io.Writer, chunk []byte, start, end, filePos int64) error {
	lo := int64(0)
	if start > filePos {
		lo = start - filePos
	}
	hi := int64(len(chunk))
	if end-filePos < hi {
		hi = end - filePos
	}
	if lo >= hi {
		return nil
	}
	_, err := w.Write(chunk[lo:hi])
	return err
}

func (p *PCF) openRangeStream(ctx context.Context, startPos, stopPos int64) (io.ReadCloser, bool, error) {
	p.mu.Lock()
	if startPos == 0 && p.originStream != nil && !p.originConsumed {
		s := p.originStream
		p.originConsumed = true
		p.mu.Unlock()
		return s, true, nil
	}
	p.mu.Unlock()

	rng := xhttp.Range{Start: startPos, End: stopPos - 1}
	resp, err := p.table.origin.Get(ctx, p.url, &rng)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, false, cacheerr.NewHTTPError(resp.StatusCode, "range fetch failed")
	}
	return resp.Body, false, nil
}

// consumeRangeStream drains stream into the data file starting at pos,
// yielding the portion overlapping [start, end) to w, and marking blocks
// written as each boundary is crossed. It returns the updated (pos, i).
func (p *PCF) consumeRangeStream(stream io.Reader, startPos, stopPos, start, end, i, pos int64, w io.Writer, closed *atomic.Bool) (int64, int64, error) {
	buf := make([]byte, 32*1024)
	blockStartPos := startPos

	for pos < stopPos {
		if closed.Load() && stopPos == p.dataLength {
			break
		}
		n, rerr := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if err := writeSlice(w, chunk, start, end, pos); err != nil {
				return pos, i, nil
			}
			if _, werr := p.dataFile.WriteAt(chunk, pos); werr != nil {
				return pos, i, cacheerr.NewIOError("write", p.table.lfc.DataPath(p.key), werr)
			}
			pos += int64(n)
			limit := blockStartPos + blockSize
			if p.dataLength < limit {
				limit = p.dataLength
			}
			for pos >= limit && i < p.blockCount {
				p.markBlockWritten(i)
				i++
				blockStartPos += blockSize
				limit = blockStartPos + blockSize
				if p.dataLength < limit {
					limit = p.dataLength
				}
			}
			if pos >= stopPos {
				break
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return pos, i, rerr
		}
	}
	return pos, i, nil
}

func (p *PCF) blockSet(i int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks.Contains(uint32(i))
}

func (p *PCF) nextCachedIndex(from int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := from; i < p.blockCount; i++ {
		if p.blocks.Contains(uint32(i)) {
			return i
		}
	}
	return -1
}

// markBlockWritten sets bit i and implements the bitmap-durability flush
// rule (spec §4.3 "Bitmap durability"): when a previously-dirty byte
// differs from the byte block i lands in, flush it synchronously before
// tracking the new pending byte.
func (p *PCF) markBlockWritten(i int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks.Set(uint32(i))
	p.dirty = true

	b := i / 8
	if p.pendingByteIndex >= 0 && p.pendingByteIndex != b {
		_ = p.flushBitmapByteLocked(p.pendingByteIndex)
	}
	p.pendingByteIndex = b
}

// flushPendingBitmap flushes the dirty bitmap byte, if any (called at the
// end of each download phase and on close, per spec).
func (p *PCF) flushPendingBitmap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingByteIndex < 0 {
		return nil
	}
	err := p.flushBitmapByteLocked(p.pendingByteIndex)
	p.pendingByteIndex = -1
	return err
}

func (p *PCF) flushBitmapByteLocked(b int64) error {
	var v byte
	for bit := int64(0); bit < 8; bit++ {
		idx := b*8 + bit
		if idx < p.blockCount && p.blocks.Contains(uint32(idx)) {
			v |= 1 << uint(bit)
		}
	}
	_, err := p.sidecarFile.WriteAt([]byte{v}, p.headersOffset+b)
	if err != nil {
		return cacheerr.NewIOError("write", "sidecar", err)
	}
	return nil
}
