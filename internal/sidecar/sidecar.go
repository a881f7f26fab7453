// Package sidecar implements the `.i` sidecar file format shared by LFC
// entries (spec §3.2, §3.3, §6.1): a header block (URL + response headers)
// optionally followed by a PCF block bitmap. CHC's whole-file downloads
// write a sidecar with no bitmap; PCF appends one.
//
// Bit-exact: little-endian throughout, the leading u32 counts itself, and
// string/count fields use the §3.4 tagged varint (internal/varint).
package sidecar

import (
	"fmt"

	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/varint"
)

// Header is the parsed header block: URL plus the first value recorded
// per header name (spec §4.3 accrue: "capture its first-value-per-name
// headers").
type Header struct {
	URL     string
	Headers map[string]string
	// Order preserves the write order of Headers' keys so Encode produces
	// a deterministic byte stream across repeated writes of the same map.
	Order []string
}

// NewHeader builds a Header with headers inserted in the given order.
func NewHeader(url string, order []string, headers map[string]string) Header {
	return Header{URL: url, Headers: headers, Order: order}
}

// EncodeHeader renders the header block (fields 1-4 of §3.3): the leading
// u32 total (which counts itself), the URL, header count, and pairs.
func EncodeHeader(h Header) []byte {
	body := varint.NewWriter(128)
	body.PutString(h.URL)
	body.PutSize(uint32(len(h.Order)))
	for _, name := range h.Order {
		body.PutString(name)
		body.PutString(h.Headers[name])
	}

	total := uint32(4 + body.Len())
	out := varint.NewWriter(int(total))
	out.PutU32(total)
	out.PutBytes(body.Bytes())
	return out.Bytes()
}

// DecodeHeader parses the header block starting at offset 0 of buf,
// returning the parsed header and the byte offset immediately following
// it (where a PCF bitmap, if any, begins).
func DecodeHeader(buf []byte) (Header, int, error) {
	r := varint.NewReader(buf)
	total, err := r.U32()
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: header_total_bytes: %v", cacheerr.ErrMalformedSidecar, err)
	}
	if int(total) > len(buf) || total < 4 {
		return Header{}, 0, fmt.Errorf("%w: header_total_bytes %d out of range (buf=%d)", cacheerr.ErrMalformedSidecar, total, len(buf))
	}

	body := varint.NewReader(buf[4:total])
	url, err := body.String()
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: url: %v", cacheerr.ErrMalformedSidecar, err)
	}
	n, err := body.Size()
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: n_headers: %v", cacheerr.ErrMalformedSidecar, err)
	}

	order := make([]string, 0, n)
	headers := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		name, err := body.String()
		if err != nil {
			return Header{}, 0, fmt.Errorf("%w: header name: %v", cacheerr.ErrMalformedSidecar, err)
		}
		value, err := body.String()
		if err != nil {
			return Header{}, 0, fmt.Errorf("%w: header value: %v", cacheerr.ErrMalformedSidecar, err)
		}
		if _, exists := headers[name]; !exists {
			order = append(order, name)
			headers[name] = value
		}
	}

	return Header{URL: url, Headers: headers, Order: order}, int(total), nil
}
